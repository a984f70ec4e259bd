package deobf

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/daimatz/jvmexec/pkg/bytecode"
	"github.com/daimatz/jvmexec/pkg/classfile"
	"github.com/daimatz/jvmexec/pkg/heap"
	"github.com/daimatz/jvmexec/pkg/vm"
)

// ClinitInfo summarizes a class initializer without running it.
type ClinitInfo struct {
	Class     string
	HasClinit bool
	// LikelyHasDecryptorCalls is set when the initializer both calls a
	// static method and stores a static field, the shape of
	// "static final String A = decrypt(...)".
	LikelyHasDecryptorCalls bool
}

// AnalyzeClinit inspects the <clinit> of cf.
func AnalyzeClinit(cf *classfile.ClassFile) (ClinitInfo, error) {
	class, err := cf.ClassName()
	if err != nil {
		return ClinitInfo{}, err
	}
	info := ClinitInfo{Class: class}
	m := cf.FindMethod("<clinit>", "()V")
	if m == nil || m.Code == nil {
		return info, nil
	}
	info.HasClinit = true
	insns, _ := bytecode.Decode(m.Code.Code)
	var invokes, puts bool
	for _, in := range insns {
		switch in.Opcode {
		case bytecode.OpInvokestatic:
			invokes = true
		case bytecode.OpPutstatic:
			puts = true
		}
	}
	info.LikelyHasDecryptorCalls = invokes && puts
	return info, nil
}

// StaticValue is one static field read back after initialization.
type StaticValue struct {
	Name       string
	Descriptor string
	Value      heap.Value
	// Text holds the content of String fields; IsString tells an empty
	// string from a non-String field.
	Text     string
	IsString bool
}

// Capture is the static state of a class after its initializer ran.
type Capture struct {
	Class  string
	Run    *vm.Result
	Fields []StaticValue
}

// Strings lists the non-null String fields as Class.field = "value".
func (c *Capture) Strings() []string {
	var out []string
	for _, f := range c.Fields {
		if f.IsString {
			out = append(out, fmt.Sprintf("%s.%s = %q", simpleName(c.Class), f.Name, f.Text))
		}
	}
	return out
}

// CaptureStatics runs the initializer of class in a fresh session and reads
// back its static fields. A class without an initializer yields an empty
// capture. A failed run still returns whatever the fields hold, together
// with the failed result.
func (s *Service) CaptureStatics(class string) (*Capture, error) {
	ss, err := s.newSession()
	if err != nil {
		return nil, err
	}
	defer ss.close()

	cf, err := ss.resolver.Resolve(class)
	if err != nil {
		return nil, errors.Wrapf(err, "capturing %s", class)
	}
	capture := &Capture{Class: class}
	if cf.FindMethod("<clinit>", "()V") == nil {
		return capture, nil
	}
	capture.Run = ss.engine.ExecuteNamed(class, "<clinit>", "()V")
	if !capture.Run.OK() {
		Logger().Info("class initializer failed",
			zap.String("class", class),
			zap.Stringer("status", capture.Run.Status),
			zap.String("detail", capture.Run.Detail))
	}

	for _, f := range cf.Fields {
		if !f.IsStatic() {
			continue
		}
		v, ok := ss.heap.GetStatic(class, f.Name)
		if !ok {
			continue
		}
		sv := StaticValue{Name: f.Name, Descriptor: f.Descriptor, Value: v}
		if f.Descriptor == "Ljava/lang/String;" && !v.IsNull() {
			if text, err := ss.heap.ExtractString(v); err == nil {
				sv.Text, sv.IsString = text, true
			}
		}
		capture.Fields = append(capture.Fields, sv)
	}
	sort.Slice(capture.Fields, func(i, j int) bool { return capture.Fields[i].Name < capture.Fields[j].Name })
	return capture, nil
}
