// Shoal is a Redfish aggregator service.

// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package spool

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCreateAndExists(t *testing.T) {
	root := t.TempDir()
	m := New(root)

	if m.Exists("req-1") {
		t.Fatal("expected no spool before Create")
	}
	if err := m.Create("req-1"); err != nil {
		t.Fatal(err)
	}
	if !m.Exists("req-1") {
		t.Fatal("expected spool to exist after Create")
	}

	info, err := os.Stat(m.Path("req-1"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != dirPerm {
		t.Errorf("got mode %v, want %v", info.Mode().Perm(), dirPerm)
	}

	entries, err := os.ReadDir(m.Path("req-1"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatal("Create must not pre-create any state files")
	}
}

func TestValidateID_RejectsEscape(t *testing.T) {
	bad := []string{"", "../escape", "a/b", ".", "..", "has space", "trailing/"}
	for _, id := range bad {
		if err := ValidateID(id); err == nil {
			t.Errorf("expected %q to be rejected", id)
		}
	}

	good := []string{"req-1", "REQUEST_123", "a"}
	for _, id := range good {
		if err := ValidateID(id); err != nil {
			t.Errorf("expected %q to be accepted, got %v", id, err)
		}
	}
}

func TestPath_StaysUnderRoot(t *testing.T) {
	root := t.TempDir()
	m := New(root)
	got := m.Path("req-1")
	want := filepath.Join(root, "req-1")
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
