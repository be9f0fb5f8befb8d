package rmd

import (
	"testing"
)

// FuzzParse tests that chunk handling never breaks the non-throwing
// contract regardless of input shape
func FuzzParse(f *testing.F) {
	f.Add(sampleRmd)
	f.Add("")
	f.Add("```{r}\n\n```")
	f.Add("```{r setup, eval=TRUE}\nx\n```")
	f.Add("```{r setup,}\nx\n```")
	f.Add("```{bash pwn, eval=TRUE}\nrm -rf /\n```")
	f.Add("```{r a, fig.cap=\"unterminated\n```")
	f.Add("```{r, comment=NULL, results='hide'}\nx\n```")
	f.Add("```{}\nx\n```")
	f.Add("```{r never closed")
	f.Add("```{r étude}\naccent label\n```")
	f.Add("---\noutput: [broken\n---\n```{r}\nx\n```")

	c := New(Options{})
	f.Fuzz(func(t *testing.T, input string) {
		result := c.Parse(input)

		if result == nil {
			t.Fatal("Parse returned nil result")
		}
		if result.Document == nil {
			t.Fatal("Parse returned nil document")
		}

		score := result.Metadata.FidelityScore
		if score < 0 || score > 1 {
			t.Errorf("fidelity score %f out of range", score)
		}

		for _, e := range result.Errors {
			if !e.Recoverable && score != 0 {
				t.Errorf("non-recoverable error %s with non-zero score %f", e.Code, score)
			}
		}
	})
}

// FuzzParseChunkHeader tests the header grammar in isolation
func FuzzParseChunkHeader(f *testing.F) {
	f.Add("{r}")
	f.Add("{r setup, eval=TRUE, fig.width=5}")
	f.Add("{python plot-1, fig.cap=\"A plot\"}")
	f.Add("{bash deploy}")
	f.Add("{r, a=}")
	f.Add("{{}}")
	f.Add("")
	f.Add("{r \"label\"}")

	f.Fuzz(func(t *testing.T, input string) {
		header, err := ParseChunkHeader(input)
		if err != nil {
			return
		}
		if header.Engine == "" {
			t.Errorf("accepted header %q without an engine", input)
		}
		if _, err := ParseChunkHeader(FormatChunkHeader(header)); err != nil {
			t.Errorf("formatted header does not reparse: %q: %v", FormatChunkHeader(header), err)
		}
	})
}
