package nvm

import (
	"bytes"
	"testing"
)

func TestSectionMapsIntoParent(t *testing.T) {
	mem := NewMem(1024)
	s, err := NewSection(mem, 256, 128)
	if err != nil {
		t.Fatal(err)
	}
	if s.Size() != 128 {
		t.Fatalf("section size = %d", s.Size())
	}

	if err := s.WriteAt([]byte{1, 2, 3}, 4); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 3)
	if err := mem.ReadAt(got, 260); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte{1, 2, 3}) {
		t.Fatalf("parent bytes = %v", got)
	}

	back := make([]byte, 3)
	if err := s.ReadAt(back, 4); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, []byte{1, 2, 3}) {
		t.Fatalf("section read back = %v", back)
	}
}

func TestSectionEnforcesBounds(t *testing.T) {
	mem := NewMem(1024)
	s, err := NewSection(mem, 256, 128)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.WriteAt(make([]byte, 16), 120); err == nil {
		t.Fatal("write past section end accepted")
	}
	if err := s.ReadAt(make([]byte, 1), -1); err == nil {
		t.Fatal("negative offset accepted")
	}
	if _, err := NewSection(mem, 1000, 128); err == nil {
		t.Fatal("section past parent end accepted")
	}
}
