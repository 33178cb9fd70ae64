package loopdevice

import (
	"strings"
	"testing"
)

func TestParseLosetupList(t *testing.T) {
	out := "/dev/loop0: [0045]:1234567 (/home/alice/cd.iso)\n" +
		"/dev/loop1: [0045]:7654321 (/home/alice/deleted.img (deleted))\n"

	entries, err := parseLosetupList(out)
	if err != nil {
		t.Fatalf("parseLosetupList() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].Device != "/dev/loop0" || entries[0].BackingFile != "/home/alice/cd.iso" {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[1].BackingFile != "/home/alice/deleted.img" {
		t.Errorf("entries[1].BackingFile = %q, want deleted-suffix stripped", entries[1].BackingFile)
	}
}

func TestParseLosetupListEmpty(t *testing.T) {
	entries, err := parseLosetupList("")
	if err != nil {
		t.Fatalf("parseLosetupList(\"\") error: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("len(entries) = %d, want 0", len(entries))
	}
}

func TestParseLosetupListIgnoresMalformedLines(t *testing.T) {
	out := "not a losetup line\n/dev/loop2: [0045]:99 (/tmp/x.iso)\n"
	entries, err := parseLosetupList(out)
	if err != nil {
		t.Fatalf("parseLosetupList() error: %v", err)
	}
	if len(entries) != 1 || entries[0].Device != "/dev/loop2" {
		t.Fatalf("entries = %+v, want single /dev/loop2 entry", entries)
	}
	if !strings.HasSuffix(entries[0].BackingFile, "x.iso") {
		t.Errorf("entries[0].BackingFile = %q", entries[0].BackingFile)
	}
}

func TestPathsDefaultLosetup(t *testing.T) {
	var p Paths
	if got := p.losetup(); got != "/sbin/losetup" {
		t.Errorf("losetup() = %q, want default /sbin/losetup", got)
	}
	p.Losetup = "/usr/custom/losetup"
	if got := p.losetup(); got != "/usr/custom/losetup" {
		t.Errorf("losetup() = %q, want configured override", got)
	}
}
