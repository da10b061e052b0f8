package scanner

import "testing"

func TestScannable(t *testing.T) {
	cases := map[string]bool{
		"app.yaml":        true,
		"app.yml":         true,
		"app.json":        true,
		"sub/dir/ok.YAML": true,
		"readme.md":       false,
		"binary":          false,
		"conf.yaml.bak":   false,
	}
	for path, want := range cases {
		if got := Scannable(path); got != want {
			t.Errorf("Scannable(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestDecodeFile(t *testing.T) {
	var out map[string]any

	if err := DecodeFile("a.yaml", []byte("name: widgets\ncount: 3"), &out); err != nil {
		t.Fatalf("yaml decode: %v", err)
	}
	if out["name"] != "widgets" {
		t.Fatalf("yaml decoded %v", out)
	}

	out = nil
	if err := DecodeFile("a.json", []byte(`{"name": "widgets"}`), &out); err != nil {
		t.Fatalf("json decode: %v", err)
	}
	if out["name"] != "widgets" {
		t.Fatalf("json decoded %v", out)
	}

	if err := DecodeFile("a.json", []byte(`{"name":`), &out); err == nil {
		t.Fatal("truncated json accepted")
	}
	if err := DecodeFile("a.toml", []byte(""), &out); err == nil {
		t.Fatal("unsupported extension accepted")
	}
}
