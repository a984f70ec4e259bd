package deobf

import (
	"sort"
	"strings"

	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/native"
)

// Priority ranks a missing native by how likely code under analysis is to
// reach it.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityMedium
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	}
	return "low"
}

var (
	highPrefixes = []string{"java/lang/", "java/util/", "java/io/"}
	lowPrefixes  = []string{"sun/", "jdk/internal/", "java/security/", "javax/crypto/"}
)

// PriorityOf classifies a class by package.
func PriorityOf(class string) Priority {
	for _, p := range highPrefixes {
		if strings.HasPrefix(class, p) {
			return PriorityHigh
		}
	}
	for _, p := range lowPrefixes {
		if strings.HasPrefix(class, p) {
			return PriorityLow
		}
	}
	return PriorityMedium
}

// NativeReport counts native methods and lists those without a handler.
type NativeReport struct {
	Total   int
	Handled int
	// Missing holds owner.name+descriptor keys per priority, sorted.
	Missing map[Priority][]string
}

// MissingCount returns the number of unhandled natives.
func (r *NativeReport) MissingCount() int { return r.Total - r.Handled }

// ScanNatives checks every native method of classes against natives.
func ScanNatives(natives *native.Registry, classes []*classfile.ClassFile) (*NativeReport, error) {
	report := &NativeReport{Missing: make(map[Priority][]string)}
	for _, cf := range classes {
		class, err := cf.ClassName()
		if err != nil {
			return nil, err
		}
		for _, m := range cf.Methods {
			if !m.IsNative() {
				continue
			}
			report.Total++
			if natives.Has(class, m.Name, m.Descriptor) {
				report.Handled++
				continue
			}
			p := PriorityOf(class)
			report.Missing[p] = append(report.Missing[p], native.Key{Owner: class, Name: m.Name, Desc: m.Descriptor}.String())
		}
	}
	for _, keys := range report.Missing {
		sort.Strings(keys)
	}
	return report, nil
}
