package markdown

import "testing"

func collectCodes(t *testing.T, content string) (codes []string, valid bool) {
	t.Helper()
	result := New(Options{}).Validate(content)
	for _, issue := range result.Issues {
		codes = append(codes, issue.Code)
	}
	return codes, result.Valid
}

func hasIssue(codes []string, want string) bool {
	for _, c := range codes {
		if c == want {
			return true
		}
	}
	return false
}

func TestValidate_WellFormed(t *testing.T) {
	codes, valid := collectCodes(t, sampleDoc)
	if !valid {
		t.Fatalf("well-formed document flagged invalid: %v", codes)
	}
}

func TestValidate_UnclosedFence(t *testing.T) {
	codes, valid := collectCodes(t, "# T\n\n```r\nx <- 1\n")
	if valid {
		t.Fatal("unclosed fence must be invalid")
	}
	if !hasIssue(codes, "unclosed-fence") {
		t.Errorf("expected unclosed-fence in %v", codes)
	}
}

func TestValidate_BrokenFrontMatter(t *testing.T) {
	codes, valid := collectCodes(t, "---\ntitle: x\nnever closed\n")
	if valid {
		t.Fatal("unclosed front matter must be invalid")
	}
	if !hasIssue(codes, "invalid-front-matter") {
		t.Errorf("expected invalid-front-matter in %v", codes)
	}
}

func TestValidate_HeadingLevelJump(t *testing.T) {
	codes, valid := collectCodes(t, "# One\n\n#### Four\n")
	if !valid {
		t.Fatal("heading jumps are warnings, not errors")
	}
	if !hasIssue(codes, "heading-level-jump") {
		t.Errorf("expected heading-level-jump in %v", codes)
	}
}

func TestValidate_RaggedTable(t *testing.T) {
	codes, valid := collectCodes(t, "| a | b |\n| --- | --- |\n| only-one |\n")
	if !valid {
		t.Fatal("ragged tables are warnings, not errors")
	}
	if !hasIssue(codes, "ragged-table") {
		t.Errorf("expected ragged-table in %v", codes)
	}
}

func TestValidate_UnclosedLink(t *testing.T) {
	codes, _ := collectCodes(t, "see [text](http://example.org\n")
	if !hasIssue(codes, "unclosed-link") {
		t.Errorf("expected unclosed-link in %v", codes)
	}
}

func TestValidate_HeadingInsideFenceIgnored(t *testing.T) {
	content := "# One\n\n```\n#### not a heading\n```\n"
	codes, valid := collectCodes(t, content)
	if !valid || hasIssue(codes, "heading-level-jump") {
		t.Errorf("fenced content must not trigger heading checks: %v", codes)
	}
}
