package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/errors"
	"github.com/xats-org/convert/core/xats"
	"github.com/xats-org/convert/internal/archive"
	"github.com/xats-org/convert/internal/bundle"
	"github.com/xats-org/convert/internal/logging"
	"github.com/xats-org/convert/internal/validation"
)

// serverVersion is reported by the root and health endpoints.
const serverVersion = "0.1.0"

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// RenderRequest is the request body for POST /render.
type RenderRequest struct {
	Document *xats.Document    `json:"document"`
	Format   string            `json:"format"`
	Options  map[string]string `json:"options,omitempty"`
}

// ParseRequest is the request body for POST /parse and POST /metadata.
type ParseRequest struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

// ValidateRequest is the request body for POST /validate.
type ValidateRequest struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

// RoundTripRequest is the request body for POST /roundtrip. Threshold
// overrides the format's default fidelity threshold when set.
type RoundTripRequest struct {
	Document  *xats.Document `json:"document"`
	Format    string         `json:"format"`
	Threshold *float64       `json:"threshold,omitempty"`
}

// CreateBundleRequest is the JSON request body for POST /bundles.
type CreateBundleRequest struct {
	Document    *xats.Document `json:"document"`
	Formats     []string       `json:"formats"`
	Name        string         `json:"name"`
	Compression string         `json:"compression,omitempty"` // "xz" (default) or "gzip"
}

// BundleInfo describes a packed bundle on disk.
type BundleInfo struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Size        int64            `json:"size"`
	Compression string           `json:"compression"`
	CreatedAt   string           `json:"created_at,omitempty"`
	Manifest    *bundle.Manifest `json:"manifest,omitempty"`
}

// HealthInfo is the health check response.
type HealthInfo struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Formats int    `json:"formats"`
	Bundles int    `json:"bundles"`
}

var startTime = time.Now()

func handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Endpoint not found")
		return
	}

	respond(w, http.StatusOK, map[string]interface{}{
		"name":    "xats conversion API",
		"version": serverVersion,
		"endpoints": []string{
			"GET /health",
			"GET /formats",
			"POST /render",
			"POST /parse",
			"POST /validate",
			"POST /roundtrip",
			"POST /metadata",
			"GET /bundles",
			"POST /bundles",
			"GET /bundles/:id",
			"DELETE /bundles/:id",
			"POST /jobs",
			"GET /jobs",
			"GET /jobs/:id",
			"DELETE /jobs/:id",
			"WS /ws",
		},
	})
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	respond(w, http.StatusOK, HealthInfo{
		Status:  "healthy",
		Version: serverVersion,
		Uptime:  time.Since(startTime).String(),
		Formats: len(converter.Formats()),
		Bundles: len(listBundles()),
	})
}

func handleFormats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET is allowed")
		return
	}

	var formats []FormatInfo
	for _, name := range converter.Formats() {
		found := false
		for _, info := range formatCatalog {
			if info.ID == name {
				formats = append(formats, info)
				found = true
				break
			}
		}
		if !found {
			formats = append(formats, FormatInfo{ID: name, Name: name, Threshold: formatThreshold(name)})
		}
	}

	response := APIResponse{
		Success: true,
		Data:    formats,
		Meta: &APIMeta{
			Total:     len(formats),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func handleRender(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	var req RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		parseErr := errors.NewParse("JSON", 0, "request body: "+err.Error())
		respondError(w, http.StatusBadRequest, "INVALID_JSON", parseErr.Error())
		return
	}
	if req.Document == nil || req.Format == "" {
		validErr := errors.NewValidation("request", "document and format are required")
		respondError(w, http.StatusBadRequest, "MISSING_PARAMS", validErr.Error())
		return
	}

	c, optWarnings, err := BuildConverter(req.Format, req.Options)
	if err != nil {
		respondError(w, http.StatusBadRequest, "UNKNOWN_FORMAT", err.Error())
		return
	}

	start := time.Now()
	result, cached, err := renderThrough(r, c, req.Document, req.Options)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "CACHE_ERROR", err.Error())
		return
	}
	result.Warnings = append(result.Warnings, optWarnings...)

	logging.Conversion(req.Format, "render", 1.0, time.Since(start),
		"cached", cached, "ok", result.OK())
	respond(w, http.StatusOK, result)
}

func handleParse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	var req ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		parseErr := errors.NewParse("JSON", 0, "request body: "+err.Error())
		respondError(w, http.StatusBadRequest, "INVALID_JSON", parseErr.Error())
		return
	}
	if req.Content == "" || req.Format == "" {
		validErr := errors.NewValidation("request", "content and format are required")
		respondError(w, http.StatusBadRequest, "MISSING_PARAMS", validErr.Error())
		return
	}

	c, _, err := BuildConverter(req.Format, nil)
	if err != nil {
		respondError(w, http.StatusBadRequest, "UNKNOWN_FORMAT", err.Error())
		return
	}

	start := time.Now()
	result := c.Parse(req.Content)
	logging.Conversion(req.Format, "parse", result.Metadata.FidelityScore, time.Since(start))
	respond(w, http.StatusOK, result)
}

func handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		parseErr := errors.NewParse("JSON", 0, "request body: "+err.Error())
		respondError(w, http.StatusBadRequest, "INVALID_JSON", parseErr.Error())
		return
	}
	if req.Content == "" || req.Format == "" {
		validErr := errors.NewValidation("request", "content and format are required")
		respondError(w, http.StatusBadRequest, "MISSING_PARAMS", validErr.Error())
		return
	}

	c, _, err := BuildConverter(req.Format, nil)
	if err != nil {
		respondError(w, http.StatusBadRequest, "UNKNOWN_FORMAT", err.Error())
		return
	}

	respond(w, http.StatusOK, c.Validate(req.Content))
}

func handleRoundTrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	var req RoundTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		parseErr := errors.NewParse("JSON", 0, "request body: "+err.Error())
		respondError(w, http.StatusBadRequest, "INVALID_JSON", parseErr.Error())
		return
	}
	if req.Document == nil || req.Format == "" {
		validErr := errors.NewValidation("request", "document and format are required")
		respondError(w, http.StatusBadRequest, "MISSING_PARAMS", validErr.Error())
		return
	}

	c, _, err := BuildConverter(req.Format, nil)
	if err != nil {
		respondError(w, http.StatusBadRequest, "UNKNOWN_FORMAT", err.Error())
		return
	}

	threshold := formatThreshold(req.Format)
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	start := time.Now()
	result := converter.RoundTrip(c, req.Document, threshold)
	logging.Conversion(req.Format, "roundtrip", result.FidelityScore, time.Since(start),
		"success", result.Success)
	respond(w, http.StatusOK, result)
}

func handleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only POST is allowed")
		return
	}

	var req ParseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		parseErr := errors.NewParse("JSON", 0, "request body: "+err.Error())
		respondError(w, http.StatusBadRequest, "INVALID_JSON", parseErr.Error())
		return
	}
	if req.Content == "" || req.Format == "" {
		validErr := errors.NewValidation("request", "content and format are required")
		respondError(w, http.StatusBadRequest, "MISSING_PARAMS", validErr.Error())
		return
	}

	c, _, err := BuildConverter(req.Format, nil)
	if err != nil {
		respondError(w, http.StatusBadRequest, "UNKNOWN_FORMAT", err.Error())
		return
	}

	respond(w, http.StatusOK, c.Metadata(req.Content))
}

// renderThrough renders via the conversion cache when one is configured.
func renderThrough(r *http.Request, c converter.Interface, doc *xats.Document, options map[string]string) (*converter.RenderResult, bool, error) {
	if conversionCache == nil {
		return c.Render(doc), false, nil
	}
	return conversionCache.Render(r.Context(), c, doc, options)
}

// Bundle handlers

func handleBundles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		listBundlesHandler(w, r)
	case http.MethodPost:
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			uploadBundleHandler(w, r)
			return
		}
		createBundleHandler(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and POST are allowed")
	}
}

func listBundlesHandler(w http.ResponseWriter, r *http.Request) {
	bundles := listBundles()

	response := APIResponse{
		Success: true,
		Data:    bundles,
		Meta: &APIMeta{
			Total:     len(bundles),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func createBundleHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateBundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON body")
		return
	}
	if req.Document == nil || len(req.Formats) == 0 {
		respondError(w, http.StatusBadRequest, "MISSING_PARAMS", "document and formats are required")
		return
	}

	name := req.Name
	if name == "" {
		name = "document"
	}
	compression := archive.Compression(req.Compression)
	if req.Compression == "" {
		compression = archive.CompressionXZ
	}
	ext := ".tar.xz"
	if compression == archive.CompressionGzip {
		ext = ".tar.gz"
	}

	filename, err := validation.SanitizeFilename(name + ext)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_NAME", fmt.Sprintf("Invalid bundle name: %v", err))
		return
	}

	BroadcastProgress("bundle", "rendering", "Rendering output formats", 20)
	b, err := bundle.Build(req.Document, req.Formats)
	if err != nil {
		BroadcastError("bundle", err.Error())
		respondError(w, http.StatusUnprocessableEntity, "BUILD_FAILED", err.Error())
		return
	}

	BroadcastProgress("bundle", "packing", "Packing archive", 70)
	archivePath := filepath.Join(ServerConfig.BundlesDir, filename)
	if err := b.Pack(archivePath, compression); err != nil {
		BroadcastError("bundle", err.Error())
		respondError(w, http.StatusInternalServerError, "PACK_FAILED", err.Error())
		return
	}

	info, _ := os.Stat(archivePath)
	manifest, _ := b.Manifest()
	result := BundleInfo{
		ID:          filename,
		Name:        filename,
		Compression: string(compression),
		Manifest:    manifest,
	}
	if info != nil {
		result.Size = info.Size()
		result.CreatedAt = info.ModTime().UTC().Format(time.RFC3339)
	}

	BroadcastComplete("bundle", "Bundle created", map[string]interface{}{
		"id":      filename,
		"formats": req.Formats,
	})
	respond(w, http.StatusCreated, result)
}

func uploadBundleHandler(w http.ResponseWriter, r *http.Request) {
	BroadcastProgress("upload", "parsing", "Parsing upload request", 10)

	if err := r.ParseMultipartForm(validation.MaxFileSize); err != nil {
		BroadcastError("upload", "Failed to parse multipart form or file too large")
		respondError(w, http.StatusBadRequest, "INVALID_REQUEST", "Failed to parse multipart form or file too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		BroadcastError("upload", "No file uploaded")
		respondError(w, http.StatusBadRequest, "MISSING_FILE", "No file uploaded")
		return
	}
	defer file.Close()

	if err := validation.ValidateFilename(header.Filename); err != nil {
		BroadcastError("upload", "Invalid filename provided")
		respondError(w, http.StatusBadRequest, "INVALID_FILENAME", "Invalid filename provided")
		return
	}

	BroadcastProgress("upload", "validating", "Validating file type", 30)
	fileType, err := validation.ValidateFileType(file, header.Filename)
	if err != nil {
		BroadcastError("upload", fmt.Sprintf("File validation failed: %v", err))
		respondError(w, http.StatusBadRequest, "INVALID_FILE_TYPE", fmt.Sprintf("File validation failed: %v", err))
		return
	}
	if _, err := file.Seek(0, 0); err != nil {
		BroadcastError("upload", "Failed to process file")
		respondError(w, http.StatusInternalServerError, "FILE_PROCESSING_ERROR", "Failed to process file")
		return
	}

	safePath, err := ValidatePath(ServerConfig.BundlesDir, header.Filename)
	if err != nil {
		BroadcastError("upload", fmt.Sprintf("Invalid file path: %v", err))
		respondError(w, http.StatusBadRequest, "INVALID_PATH", fmt.Sprintf("Invalid file path: %v", err))
		return
	}

	BroadcastProgress("upload", "saving", "Saving uploaded file", 60)
	destPath := filepath.Join(ServerConfig.BundlesDir, safePath)
	destFile, err := os.Create(destPath)
	if err != nil {
		BroadcastError("upload", fmt.Sprintf("Failed to save file: %v", err))
		respondError(w, http.StatusInternalServerError, "SAVE_FAILED", fmt.Sprintf("Failed to save file: %v", err))
		return
	}
	defer destFile.Close()

	written, err := io.CopyN(destFile, file, validation.MaxFileSize)
	if err != nil && err != io.EOF {
		os.Remove(destPath)
		BroadcastError("upload", "Failed to write file")
		respondError(w, http.StatusInternalServerError, "SAVE_FAILED", "Failed to write file")
		return
	}
	if _, err := file.Read(make([]byte, 1)); err != io.EOF {
		os.Remove(destPath)
		BroadcastError("upload", "File exceeds maximum size limit")
		respondError(w, http.StatusBadRequest, "FILE_TOO_LARGE", "File exceeds maximum size limit")
		return
	}

	// The archive must actually unpack as a bundle; anything else is
	// rejected and removed.
	if _, _, err := bundle.Unpack(destPath); err != nil {
		os.Remove(destPath)
		BroadcastError("upload", fmt.Sprintf("Not a valid bundle: %v", err))
		respondError(w, http.StatusBadRequest, "INVALID_BUNDLE", fmt.Sprintf("Not a valid bundle: %v", err))
		return
	}

	BroadcastComplete("upload", "Upload completed", map[string]interface{}{
		"filename":  header.Filename,
		"size":      written,
		"file_type": string(fileType),
	})
	respond(w, http.StatusCreated, BundleInfo{
		ID:          safePath,
		Name:        header.Filename,
		Size:        written,
		Compression: detectBundleCompression(destPath),
	})
}

func handleBundleByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/bundles/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "MISSING_ID", "Bundle ID is required")
		return
	}

	if err := ValidateID(id); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_ID", fmt.Sprintf("Invalid bundle ID: %v", err))
		return
	}
	if _, err := ValidatePath(ServerConfig.BundlesDir, id); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PATH", fmt.Sprintf("Invalid bundle path: %v", err))
		return
	}

	switch r.Method {
	case http.MethodGet:
		getBundleHandler(w, r, id)
	case http.MethodDelete:
		deleteBundleHandler(w, r, id)
	default:
		respondError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Only GET and DELETE are allowed")
	}
}

func getBundleHandler(w http.ResponseWriter, r *http.Request, id string) {
	bundlePath := filepath.Join(ServerConfig.BundlesDir, id)
	info, err := os.Stat(bundlePath)
	if err != nil {
		notFoundErr := errors.NewNotFound("bundle", id)
		respondError(w, http.StatusNotFound, "NOT_FOUND", notFoundErr.Error())
		return
	}

	result := BundleInfo{
		ID:          id,
		Name:        id,
		Size:        info.Size(),
		Compression: detectBundleCompression(bundlePath),
		CreatedAt:   info.ModTime().UTC().Format(time.RFC3339),
	}

	if _, manifest, err := bundle.Unpack(bundlePath); err == nil {
		result.Manifest = manifest
	}

	respond(w, http.StatusOK, result)
}

func deleteBundleHandler(w http.ResponseWriter, r *http.Request, id string) {
	bundlePath := filepath.Join(ServerConfig.BundlesDir, id)
	if _, err := os.Stat(bundlePath); err != nil {
		notFoundErr := errors.NewNotFound("bundle", id)
		respondError(w, http.StatusNotFound, "NOT_FOUND", notFoundErr.Error())
		return
	}

	if err := os.Remove(bundlePath); err != nil {
		ioErr := errors.NewIO("delete", bundlePath, err)
		respondError(w, http.StatusInternalServerError, "DELETE_FAILED", ioErr.Error())
		return
	}

	respond(w, http.StatusOK, map[string]string{"message": "Bundle deleted"})
}

// Helper functions

func listBundles() []BundleInfo {
	var bundles []BundleInfo

	filepath.Walk(ServerConfig.BundlesDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".xz" && ext != ".gz" && ext != ".tar" {
			return nil
		}
		rel, _ := filepath.Rel(ServerConfig.BundlesDir, path)
		bundles = append(bundles, BundleInfo{
			ID:          rel,
			Name:        filepath.Base(path),
			Size:        info.Size(),
			Compression: detectBundleCompression(path),
			CreatedAt:   info.ModTime().UTC().Format(time.RFC3339),
		})
		return nil
	})

	sort.Slice(bundles, func(i, j int) bool {
		return bundles[i].Name < bundles[j].Name
	})

	return bundles
}

// detectBundleCompression reports the archive compression from the file
// content, not the filename.
func detectBundleCompression(path string) string {
	compression, err := archive.DetectCompression(path)
	if err != nil {
		return "unknown"
	}
	return string(compression)
}

func respond(w http.ResponseWriter, status int, data interface{}) {
	response := APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	response := APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
		Meta: &APIMeta{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}
