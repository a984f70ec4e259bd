package main

import (
	"testing"

	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/heap"
)

func TestParseArgs(t *testing.T) {
	h := heap.NewManager(nil)
	md, err := classfile.ParseMethodDescriptor("(ZCBSIJFDLjava/lang/String;)V")
	if err != nil {
		t.Fatal(err)
	}
	values, err := parseArgs(h, md, []string{"true", "x", "-1", "0x7f", "42", "9000000000", "1.5", "2.25", "hi"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	want := []heap.Value{heap.Bool(true), heap.Int('x'), heap.Int(-1), heap.Int(127), heap.Int(42),
		heap.Long(9000000000), heap.Float(1.5), heap.Double(2.25)}
	for i, w := range want {
		if values[i] != w {
			t.Errorf("arg %d: got %v, want %v", i, values[i], w)
		}
	}
	if s, err := h.ExtractString(values[8]); err != nil || s != "hi" {
		t.Errorf("string arg: %q, %v", s, err)
	}
}

func TestParseArgsErrors(t *testing.T) {
	h := heap.NewManager(nil)
	tests := []struct {
		desc string
		args []string
	}{
		{"(I)V", nil},
		{"(I)V", []string{"abc"}},
		{"(B)V", []string{"300"}},
		{"(C)V", []string{"xy"}},
		{"([I)V", []string{"1"}},
	}
	for _, tt := range tests {
		md, err := classfile.ParseMethodDescriptor(tt.desc)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := parseArgs(h, md, tt.args); err == nil {
			t.Errorf("%s %v: expected error", tt.desc, tt.args)
		}
	}
}

func TestInternalName(t *testing.T) {
	for in, want := range map[string]string{
		"com.acme.Foo":       "com/acme/Foo",
		"com/acme/Foo":       "com/acme/Foo",
		"com/acme/Foo.class": "com/acme/Foo",
		"Main":               "Main",
	} {
		if got := internalName(in); got != want {
			t.Errorf("internalName(%q) = %q, want %q", in, got, want)
		}
	}
}
