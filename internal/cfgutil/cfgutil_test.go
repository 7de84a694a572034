// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestNormalizeAddresses(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
		err  bool
	}{
		{
			in:   []string{"localhost", "localhost:9171", "127.0.0.1"},
			want: []string{"localhost:9171", "127.0.0.1:9171"},
		},
		{
			in:   []string{"::1", "[::1]:1000"},
			want: []string{"[::1]:9171", "[::1]:1000"},
		},
		{
			in:  []string{"[::1"},
			err: true,
		},
	}
	for i, test := range tests {
		got, err := NormalizeAddresses(test.in, "9171")
		if test.err {
			if err == nil {
				t.Fatalf("%d: expected an error", i)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%d: %v", i, err)
		}
		if !reflect.DeepEqual(got, test.want) {
			t.Fatalf("%d: got %v, want %v", i, got, test.want)
		}
	}
}

func TestIsLocalhost(t *testing.T) {
	for addr, want := range map[string]bool{
		"localhost:1":   true,
		"127.0.0.1:1":   true,
		"[::1]:1":       true,
		"10.0.0.1:1":    false,
		"example.com:1": false,
		"missing-port":  false,
	} {
		if IsLocalhost(addr) != want {
			t.Fatalf("IsLocalhost(%q) != %v", addr, want)
		}
	}
}

func TestExplicitString(t *testing.T) {
	s := NewExplicitString("default")
	if s.ExplicitlySet() {
		t.Fatal("default value reported as explicitly set")
	}
	if err := s.UnmarshalFlag("default"); err != nil {
		t.Fatal(err)
	}
	if !s.ExplicitlySet() || s.Value != "default" {
		t.Fatal("flag not recorded as explicitly set")
	}
}

func TestCurveFlag(t *testing.T) {
	f := NewCurveFlag(CurveP521)
	if name, err := f.MarshalFlag(); err != nil || name != "P-521" {
		t.Fatalf("unexpected default %q: %v", name, err)
	}
	if err := f.UnmarshalFlag("P-256"); err != nil {
		t.Fatal(err)
	}
	if f.ECDSACurve().Params().Name != "P-256" {
		t.Fatal("curve not changed")
	}
	if err := f.UnmarshalFlag("Ed448"); err == nil {
		t.Fatal("unknown curve accepted")
	}
}

func TestFileExists(t *testing.T) {
	dir, err := ioutil.TempDir("", "cfgutil")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	name := filepath.Join(dir, "joinswap.conf")
	if ok, err := FileExists(name); ok || err != nil {
		t.Fatalf("missing file reported as %v, %v", ok, err)
	}
	if err := ioutil.WriteFile(name, nil, 0600); err != nil {
		t.Fatal(err)
	}
	if ok, err := FileExists(name); !ok || err != nil {
		t.Fatalf("existing file reported as %v, %v", ok, err)
	}
	if got := CleanAndExpandPath(filepath.Join(dir, "a", "..", "joinswap.conf")); got != name {
		t.Fatalf("path cleaned to %q", got)
	}
}
