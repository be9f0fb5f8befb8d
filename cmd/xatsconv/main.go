// Command xatsconv converts xats documents to and from LaTeX, Markdown,
// R Markdown, and DOCX, and serves the REST conversion API.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"

	"github.com/xats-org/convert/core/converter"
	"github.com/xats-org/convert/core/xats"
	"github.com/xats-org/convert/internal/api"
	"github.com/xats-org/convert/internal/archive"
	"github.com/xats-org/convert/internal/bundle"
	"github.com/xats-org/convert/internal/cache"
	"github.com/xats-org/convert/internal/logging"

	// Register the built-in format converters.
	_ "github.com/xats-org/convert/internal/embedded"
)

const version = "0.1.0"

// CLI defines the command-line interface for xatsconv.
var CLI struct {
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)" default:"info"`
	LogFormat string `name:"log-format" help:"Log format (json, text)" default:"text"`

	Render    RenderCmd    `cmd:"" help:"Render a document to a target format"`
	Parse     ParseCmd     `cmd:"" help:"Parse target-format content into a document"`
	Validate  ValidateCmd  `cmd:"" help:"Validate target-format content"`
	Roundtrip RoundtripCmd `cmd:"" help:"Render, parse back, and compare"`
	Metadata  MetadataCmd  `cmd:"" help:"Probe content for document metadata"`
	Formats   FormatsCmd   `cmd:"" help:"List supported formats"`
	Bundle    BundleGroup  `cmd:"" help:"Conversion bundle operations"`
	Cache     CacheGroup   `cmd:"" help:"Render cache maintenance"`
	API       APICmd       `cmd:"" help:"Start REST API server"`
	Version   VersionCmd   `cmd:"" help:"Print version information"`
}

// BundleGroup contains bundle lifecycle operations.
type BundleGroup struct {
	Pack    BundlePackCmd    `cmd:"" help:"Render a document to several formats and pack an archive"`
	Unpack  BundleUnpackCmd  `cmd:"" help:"Unpack a bundle archive into a directory"`
	Inspect BundleInspectCmd `cmd:"" help:"Print a bundle's manifest"`
}

// CacheGroup contains render cache operations.
type CacheGroup struct {
	Prune CachePruneCmd `cmd:"" help:"Remove expired render cache entries"`
}

// parseLogLevel maps a flag value onto a logging level.
func parseLogLevel(s string) logging.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// parseLogFormat maps a flag value onto a logging format.
func parseLogFormat(s string) logging.Format {
	if strings.EqualFold(s, "json") {
		return logging.FormatJSON
	}
	return logging.FormatText
}

// extensionFormats maps file extensions to format names for inference.
var extensionFormats = map[string]string{
	".tex":      "latex",
	".md":       "markdown",
	".markdown": "markdown",
	".rmd":      "rmd",
	".docx":     "docx",
}

// resolveFormat returns the explicit format if given, otherwise infers it
// from the path's extension.
func resolveFormat(explicit, path string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if format, ok := extensionFormats[ext]; ok {
		return format, nil
	}
	return "", fmt.Errorf("cannot infer format from %q; use --format", path)
}

// parseOptions converts repeated key=value flags into an option map.
func parseOptions(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	options := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid option %q; expected key=value", pair)
		}
		options[key] = value
	}
	return options, nil
}

// loadDocument reads and normalizes a document JSON file.
func loadDocument(path string) (*xats.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc xats.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document %s: %w", path, err)
	}
	doc.Normalize()
	return &doc, nil
}

// readContent loads converter input from a file, base64-encoding binary
// formats for the converter contract.
func readContent(path, format string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if format == "docx" {
		return base64.StdEncoding.EncodeToString(data), nil
	}
	return string(data), nil
}

// writeContent writes converter output to a file or stdout, decoding
// base64 content back to raw bytes.
func writeContent(out string, result *converter.RenderResult) error {
	data := []byte(result.Content)
	if result.Metadata.Encoding == converter.EncodingBase64 {
		decoded, err := base64.StdEncoding.DecodeString(result.Content)
		if err != nil {
			return fmt.Errorf("decode rendered content: %w", err)
		}
		data = decoded
	}
	if out == "" || out == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(out, data, 0644)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// reportIssues prints conversion errors and warnings to stderr.
func reportIssues(errs []converter.ConversionError, warnings []converter.Warning) {
	for _, e := range errs {
		fmt.Fprintf(os.Stderr, "error [%s]: %s\n", e.Code, e.Message)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning [%s]: %s\n", w.Code, w.Message)
	}
}

// RenderCmd renders a document JSON file to a target format.
type RenderCmd struct {
	Document string   `arg:"" help:"Path to document JSON" type:"existingfile"`
	Format   string   `help:"Target format (latex, markdown, rmd, docx)" required:""`
	Out      string   `short:"o" help:"Output file (default: stdout)"`
	Option   []string `short:"O" help:"Format option as key=value (repeatable)"`
}

func (c *RenderCmd) Run() error {
	doc, err := loadDocument(c.Document)
	if err != nil {
		return err
	}
	options, err := parseOptions(c.Option)
	if err != nil {
		return err
	}

	conv, warnings, err := api.BuildConverter(c.Format, options)
	if err != nil {
		return err
	}

	start := time.Now()
	result := conv.Render(doc)
	result.Warnings = append(result.Warnings, warnings...)
	reportIssues(result.Errors, result.Warnings)
	if !result.OK() {
		return fmt.Errorf("render to %s failed", c.Format)
	}

	logging.Conversion(c.Format, "render", 1.0, time.Since(start),
		"words", result.Metadata.WordCount)
	return writeContent(c.Out, result)
}

// ParseCmd parses target-format content into document JSON.
type ParseCmd struct {
	Input  string `arg:"" help:"Path to source file" type:"existingfile"`
	Format string `help:"Source format (inferred from extension when omitted)"`
	Out    string `short:"o" help:"Output document JSON file (default: stdout)"`
}

func (c *ParseCmd) Run() error {
	format, err := resolveFormat(c.Format, c.Input)
	if err != nil {
		return err
	}
	content, err := readContent(c.Input, format)
	if err != nil {
		return err
	}

	conv, _, err := api.BuildConverter(format, nil)
	if err != nil {
		return err
	}

	start := time.Now()
	result := conv.Parse(content)
	reportIssues(result.Errors, result.Warnings)
	if !result.OK() {
		return fmt.Errorf("parse from %s failed", format)
	}
	logging.Conversion(format, "parse", result.Metadata.FidelityScore, time.Since(start),
		"mapped", result.Metadata.MappedElements,
		"unmapped", result.Metadata.UnmappedElements)

	data, err := json.MarshalIndent(result.Document, "", "  ")
	if err != nil {
		return err
	}
	if c.Out == "" || c.Out == "-" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(c.Out, append(data, '\n'), 0644)
}

// ValidateCmd validates target-format content.
type ValidateCmd struct {
	Input  string `arg:"" help:"Path to source file" type:"existingfile"`
	Format string `help:"Source format (inferred from extension when omitted)"`
}

func (c *ValidateCmd) Run() error {
	format, err := resolveFormat(c.Format, c.Input)
	if err != nil {
		return err
	}
	content, err := readContent(c.Input, format)
	if err != nil {
		return err
	}

	conv, _, err := api.BuildConverter(format, nil)
	if err != nil {
		return err
	}

	result := conv.Validate(content)
	for _, issue := range result.Issues {
		line := ""
		if issue.Line > 0 {
			line = fmt.Sprintf(" (line %d)", issue.Line)
		}
		fmt.Printf("%s [%s]%s: %s\n", issue.Severity, issue.Code, line, issue.Message)
	}
	if !result.Valid {
		return fmt.Errorf("%s content is invalid", format)
	}
	fmt.Printf("%s content is valid\n", format)
	return nil
}

// RoundtripCmd renders a document, parses the output back, and compares.
type RoundtripCmd struct {
	Document  string  `arg:"" help:"Path to document JSON" type:"existingfile"`
	Format    string  `help:"Target format" required:""`
	Threshold float64 `help:"Fidelity threshold override (0 = format default)"`
}

func (c *RoundtripCmd) Run() error {
	doc, err := loadDocument(c.Document)
	if err != nil {
		return err
	}
	conv, _, err := api.BuildConverter(c.Format, nil)
	if err != nil {
		return err
	}

	var result *converter.RoundTripResult
	if c.Threshold > 0 {
		result = converter.RoundTrip(conv, doc, c.Threshold)
	} else {
		result = conv.RoundTrip(doc)
	}

	if err := printJSON(result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("round trip through %s scored %.3f, below threshold %.3f",
			c.Format, result.FidelityScore, result.Threshold)
	}
	return nil
}

// MetadataCmd probes content for document metadata.
type MetadataCmd struct {
	Input  string `arg:"" help:"Path to source file" type:"existingfile"`
	Format string `help:"Source format (inferred from extension when omitted)"`
}

func (c *MetadataCmd) Run() error {
	format, err := resolveFormat(c.Format, c.Input)
	if err != nil {
		return err
	}
	content, err := readContent(c.Input, format)
	if err != nil {
		return err
	}

	conv, _, err := api.BuildConverter(format, nil)
	if err != nil {
		return err
	}
	return printJSON(conv.Metadata(content))
}

// FormatsCmd lists the registered formats.
type FormatsCmd struct{}

func (c *FormatsCmd) Run() error {
	for _, name := range converter.Formats() {
		fmt.Println(name)
	}
	return nil
}

// BundlePackCmd renders a document to several formats and packs an archive.
type BundlePackCmd struct {
	Document    string   `arg:"" help:"Path to document JSON" type:"existingfile"`
	Out         string   `short:"o" help:"Output archive path" required:""`
	Format      []string `short:"f" help:"Output format (repeatable)" required:""`
	Compression string   `help:"Archive compression (xz, gzip)" default:"xz"`
}

func (c *BundlePackCmd) Run() error {
	doc, err := loadDocument(c.Document)
	if err != nil {
		return err
	}
	b, err := bundle.Build(doc, c.Format)
	if err != nil {
		return err
	}
	if err := b.Pack(c.Out, archive.Compression(c.Compression)); err != nil {
		return err
	}
	fmt.Printf("packed %d formats into %s\n", len(c.Format), c.Out)
	return nil
}

// BundleUnpackCmd unpacks a bundle archive into a directory.
type BundleUnpackCmd struct {
	Archive string `arg:"" help:"Path to bundle archive" type:"existingfile"`
	Dir     string `short:"d" help:"Output directory" default:"."`
}

func (c *BundleUnpackCmd) Run() error {
	b, manifest, err := bundle.Unpack(c.Archive)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(c.Dir, 0755); err != nil {
		return err
	}
	docData, err := json.MarshalIndent(b.Document, "", "  ")
	if err != nil {
		return err
	}
	docPath := filepath.Join(c.Dir, "document.json")
	if err := os.WriteFile(docPath, append(docData, '\n'), 0644); err != nil {
		return err
	}
	fmt.Println(docPath)

	for _, record := range manifest.Outputs {
		result, ok := b.Outputs[record.Format]
		if !ok {
			continue
		}
		outPath := filepath.Join(c.Dir, filepath.Base(record.File))
		if err := writeContent(outPath, result); err != nil {
			return err
		}
		fmt.Println(outPath)
	}
	return nil
}

// BundleInspectCmd prints a bundle's manifest.
type BundleInspectCmd struct {
	Archive string `arg:"" help:"Path to bundle archive" type:"existingfile"`
}

func (c *BundleInspectCmd) Run() error {
	_, manifest, err := bundle.Unpack(c.Archive)
	if err != nil {
		return err
	}
	return printJSON(manifest)
}

// CachePruneCmd removes expired render cache entries.
type CachePruneCmd struct {
	Path string `arg:"" help:"Path to render cache database" type:"existingfile"`
	TTL  string `help:"Entry lifetime (Go duration, e.g. 72h)" default:"168h"`
}

func (c *CachePruneCmd) Run() error {
	ttl, err := time.ParseDuration(c.TTL)
	if err != nil {
		return fmt.Errorf("invalid TTL: %w", err)
	}
	store, err := cache.Open(c.Path, ttl)
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.Prune(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d entries\n", removed)
	return nil
}

// APICmd starts the REST API server.
type APICmd struct {
	Port           int      `help:"HTTP server port" default:"8081"`
	Bundles        string   `help:"Directory for packed bundles" default:"./bundles" type:"path"`
	CachePath      string   `name:"cache" help:"Render cache database path (empty = no cache)" type:"path"`
	CacheTTL       string   `name:"cache-ttl" help:"Render cache entry lifetime" default:"168h"`
	RateLimit      int      `help:"Requests per minute per IP (0 = disabled)"`
	RateBurst      int      `help:"Rate limit burst size" default:"10"`
	APIKey         string   `name:"api-key" env:"XATS_API_KEY" help:"Require this API key on requests"`
	TLSCert        string   `name:"tls-cert" help:"TLS certificate file" type:"path"`
	TLSKey         string   `name:"tls-key" help:"TLS private key file" type:"path"`
	AllowedOrigins []string `name:"allowed-origins" help:"CORS allowed origins (empty = allow all)"`
}

func (c *APICmd) Run() error {
	ttl, err := time.ParseDuration(c.CacheTTL)
	if err != nil {
		return fmt.Errorf("invalid cache TTL: %w", err)
	}

	cfg := api.Config{
		Port:              c.Port,
		BundlesDir:        c.Bundles,
		CachePath:         c.CachePath,
		CacheTTL:          ttl,
		RateLimitRequests: c.RateLimit,
		RateLimitBurst:    c.RateBurst,
		AllowedOrigins:    c.AllowedOrigins,
	}
	if c.APIKey != "" {
		cfg.Auth = api.AuthConfig{Enabled: true, APIKey: c.APIKey}
	}
	if c.TLSCert != "" || c.TLSKey != "" {
		cfg.TLS = api.TLSConfig{Enabled: true, CertFile: c.TLSCert, KeyFile: c.TLSKey}
	}
	return api.Start(cfg)
}

// VersionCmd prints version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("xatsconv version %s\n", version)
	return nil
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("xatsconv"),
		kong.Description("xats document conversion - LaTeX, Markdown, R Markdown, DOCX"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	logging.InitLogger(parseLogLevel(CLI.LogLevel), parseLogFormat(CLI.LogFormat))
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
