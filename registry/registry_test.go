// Dropwatch
// Copyright (c) 2016, 2025, DCSO GmbH

package registry

import (
	"errors"
	"strings"
	"testing"

	"github.com/DCSO/dropwatch/config"
)

type testPlugin struct {
	count  int
	family string
	err    error
}

func (p *testPlugin) Name() string {
	return "test plugin"
}

func (p *testPlugin) ReInitialize() error {
	p.count = 0
	return nil
}

func (p *testPlugin) Detect(s Sample) (string, bool, error) {
	p.count++
	if p.err != nil {
		return "", false, p.err
	}
	return p.family, p.family != "", nil
}

func TestDetectFamilyOrder(t *testing.T) {
	broken := &testPlugin{err: errors.New("boom")}
	silent := &testPlugin{}
	first := &testPlugin{family: "Lumma"}
	second := &testPlugin{family: "Vidar"}
	plugins := []DetectorPlugin{broken, silent, first, second}

	fam, via := DetectFamily(plugins, Sample{Device: "PC1", Text: []byte("x")})
	if fam != "Lumma" || via != "test plugin" {
		t.Fatalf("unexpected result %q via %q", fam, via)
	}
	if broken.count != 1 || silent.count != 1 || first.count != 1 {
		t.Fatal("plugin not consulted")
	}
	if second.count != 0 {
		t.Fatal("plugin after first match consulted")
	}

	fam, _ = DetectFamily([]DetectorPlugin{silent}, Sample{})
	if fam != "" {
		t.Fatalf("unexpected family %q", fam)
	}
}

func TestKeywordDetector(t *testing.T) {
	k := MakeKeywordDetector(config.Default())
	fam, ok, err := k.Detect(Sample{Text: []byte("Build: LummaC2 Build 2024")})
	if err != nil || !ok || fam != "Lumma" {
		t.Fatalf("unexpected result %q %v %v", fam, ok, err)
	}
	_, ok, _ = k.Detect(Sample{Text: []byte("Windows 10 Pro")})
	if ok {
		t.Fatal("unexpected match")
	}
	for _, text := range []string{
		"Computer Name: DESKTOP-MARSHALL\nUser: metadmin\n",
		"PC = TITAN-01\n",
		"running mars on this box\n",
	} {
		if fam, ok, _ := k.Detect(Sample{Text: []byte(text)}); ok {
			t.Fatalf("%q labelled %s from a non-family line", text, fam)
		}
	}
	fam, ok, _ = k.Detect(Sample{Text: []byte("Computer Name: DESKTOP-MARSHALL\r\n - Log by = Vidar 6.2\r\n")})
	if !ok || fam != "Vidar" {
		t.Fatalf("unexpected result %q %v", fam, ok)
	}
}

func TestCalculateBasicHashes(t *testing.T) {
	h, err := CalculateBasicHashes(strings.NewReader("foo bar"))
	if err != nil {
		t.Fatal(err)
	}
	if h.Md5 != "327b6f07435811239bc47e1544353273" {
		t.Fatalf("wrong md5 %s", h.Md5)
	}
	if h.Sha256 != "fbc1a9f858ea9e177916964bd88c3d37b91a1e84412765e29950777f265c4b75" {
		t.Fatalf("wrong sha256 %s", h.Sha256)
	}
	if len(h.Sha1) != 40 || len(h.Sha512) != 128 || len(h.Sha3_512) != 128 {
		t.Fatal("wrong hash lengths")
	}
}
