package deobf

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/daimatz/jvmexec/pkg/classfile"
)

// Reason says why a string constant looks encrypted.
type Reason int

const (
	HighEntropy Reason = iota
	Base64Pattern
	NonPrintable
	HexPattern
)

func (r Reason) String() string {
	switch r {
	case HighEntropy:
		return "HIGH_ENTROPY"
	case Base64Pattern:
		return "BASE64_PATTERN"
	case NonPrintable:
		return "NON_PRINTABLE"
	case HexPattern:
		return "HEX_PATTERN"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// SuspiciousString is a string constant that may hold ciphertext.
type SuspiciousString struct {
	Class   string
	CPIndex uint16
	Value   string
	Reason  Reason
	Score   float64
}

func (s SuspiciousString) String() string {
	return fmt.Sprintf("%s[%d]: %q (%s)", simpleName(s.Class), s.CPIndex, truncate(s.Value, 40), s.Reason)
}

// StringScanner flags string constants by shape. The zero value is not
// useful; use NewStringScanner.
type StringScanner struct {
	MinLength        int
	MaxLength        int
	EntropyThreshold float64
}

// NewStringScanner returns a scanner with the standard thresholds.
func NewStringScanner() *StringScanner {
	return &StringScanner{MinLength: 4, MaxLength: 1000, EntropyThreshold: 4.0}
}

var (
	base64Re     = regexp.MustCompile(`^[A-Za-z0-9+/]{4,}={0,2}$`)
	hexRe        = regexp.MustCompile(`^[0-9A-Fa-f]{8,}$`)
	descriptorRe = regexp.MustCompile(`^[ZBCSIJFDV\[L;()]+$`)
	lowerRe      = regexp.MustCompile(`^[a-z]+$`)
	constantRe   = regexp.MustCompile(`^[A-Z_]+$`)
)

var attributeNames = map[string]bool{
	"Code": true, "LineNumberTable": true, "LocalVariableTable": true, "StackMapTable": true,
	"SourceFile": true, "InnerClasses": true, "Exceptions": true, "Signature": true,
}

// Scan checks every CONSTANT_String of cf and returns the suspicious ones,
// highest score first.
func (s *StringScanner) Scan(cf *classfile.ClassFile) ([]SuspiciousString, error) {
	class, err := cf.ClassName()
	if err != nil {
		return nil, err
	}
	var out []SuspiciousString
	for i, e := range cf.ConstantPool {
		if _, ok := e.(*classfile.ConstantString); !ok {
			continue
		}
		units, err := classfile.GetString(cf.ConstantPool, uint16(i))
		if err != nil {
			continue
		}
		if reason, score, ok := s.classify(units); ok {
			out = append(out, SuspiciousString{
				Class:   class,
				CPIndex: uint16(i),
				Value:   string(utf16.Decode(units)),
				Reason:  reason,
				Score:   score,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// classify applies the checks in order; the first match decides. Lengths
// are in UTF-16 code units.
func (s *StringScanner) classify(units []uint16) (Reason, float64, bool) {
	n := len(units)
	if n < s.MinLength || n > s.MaxLength {
		return 0, 0, false
	}
	value := string(utf16.Decode(units))
	if isCommonString(value) {
		return 0, 0, false
	}
	if n >= 8 && (n%4 == 0 || strings.HasSuffix(value, "=")) && base64Re.MatchString(value) {
		if n > 20 {
			return Base64Pattern, 0.9, true
		}
		return Base64Pattern, 0.8, true
	}
	if n >= 8 && n%2 == 0 && hexRe.MatchString(value) {
		if n > 16 {
			return HexPattern, 0.8, true
		}
		return HexPattern, 0.7, true
	}
	if hasNonPrintable(units) {
		return NonPrintable, 0.9, true
	}
	if e := Entropy(units); e > s.EntropyThreshold {
		return HighEntropy, math.Min(1, e/6), true
	}
	return 0, 0, false
}

func isCommonString(v string) bool {
	switch {
	case strings.HasPrefix(v, "java/"), strings.HasPrefix(v, "javax/"),
		strings.HasPrefix(v, "sun/"), strings.HasPrefix(v, "com/sun/"):
		return true
	case strings.HasPrefix(v, "org/") && !strings.Contains(v, "obfusc"):
		return true
	case strings.Contains(v, ".class"), strings.Contains(v, ".java"):
		return true
	case descriptorRe.MatchString(v), constantRe.MatchString(v):
		return true
	case lowerRe.MatchString(v) && len(v) < 20:
		return true
	case strings.HasPrefix(v, "<") && strings.HasSuffix(v, ">"):
		return true
	}
	return attributeNames[v]
}

func hasNonPrintable(units []uint16) bool {
	for _, c := range units {
		if c < 32 && c != '\n' && c != '\r' && c != '\t' {
			return true
		}
		if c > 126 && c < 160 {
			return true
		}
	}
	return false
}

// Entropy returns the Shannon entropy in bits per character. Code units
// above 0xFF count toward the length but not the distribution.
func Entropy(units []uint16) float64 {
	if len(units) == 0 {
		return 0
	}
	var freq [256]int
	for _, c := range units {
		if c < 256 {
			freq[c]++
		}
	}
	n := float64(len(units))
	e := 0.0
	for _, f := range freq {
		if f > 0 {
			p := float64(f) / n
			e -= p * math.Log2(p)
		}
	}
	return e
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
