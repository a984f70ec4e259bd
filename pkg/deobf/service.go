package deobf

import (
	"fmt"
	"time"
	"unicode/utf16"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/daimatz/jvmexec/pkg/heap"
	"github.com/daimatz/jvmexec/pkg/vm"
)

// Service runs decryptors and class initializers. Every attempt gets a
// private resolver, heap and context over the shared pool, so a Service
// may be used from several goroutines.
type Service struct {
	pool *vm.ClassPool
	opts []vm.Option
}

// NewService retains pool until Close. opts are applied after the defaults
// (recursive mode, 1,000,000 instructions, depth 100).
func NewService(pool *vm.ClassPool, opts ...vm.Option) *Service {
	base := []vm.Option{
		vm.WithMode(vm.ModeRecursive),
		vm.WithMaxInstructions(vm.DefaultMaxInstructions),
		vm.WithMaxCallDepth(vm.DefaultMaxCallDepth),
	}
	return &Service{pool: pool.Retain(), opts: append(base, opts...)}
}

// Pool returns the class pool the service executes against.
func (s *Service) Pool() *vm.ClassPool { return s.pool }

// Close releases the pool.
func (s *Service) Close() error { return s.pool.Release() }

// session is one fresh execution environment.
type session struct {
	engine   *vm.Engine
	heap     *heap.Manager
	resolver *vm.ClassResolver
}

func (s *Service) newSession() (*session, error) {
	resolver := vm.NewClassResolver(s.pool)
	h := heap.NewManager(resolver)
	ctx, err := vm.NewContext(resolver, h, s.opts...)
	if err != nil {
		resolver.Close()
		return nil, errors.Wrap(err, "creating execution context")
	}
	return &session{engine: vm.NewEngine(ctx), heap: h, resolver: resolver}, nil
}

func (ss *session) close() { ss.resolver.Close() }

// Decrypt runs decryptor on one encrypted constant of class. Failures are
// reported in the result, never as a panic or error.
func (s *Service) Decrypt(class string, cpIndex uint16, encrypted string, decryptor Candidate) *Result {
	start := time.Now()
	res := &Result{
		Class:     class,
		CPIndex:   cpIndex,
		Original:  encrypted,
		Decryptor: decryptor.Class + "." + decryptor.Method + decryptor.Descriptor,
	}
	plain, err := s.decrypt(cpIndex, encrypted, decryptor)
	res.Elapsed = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		Logger().Debug("decryption failed",
			zap.String("location", res.Location()),
			zap.String("decryptor", res.Decryptor),
			zap.Error(err))
		return res
	}
	res.Decrypted = plain
	res.Success = true
	return res
}

func (s *Service) decrypt(cpIndex uint16, encrypted string, d Candidate) (string, error) {
	ss, err := s.newSession()
	if err != nil {
		return "", err
	}
	defer ss.close()

	args, err := decryptorArgs(ss.heap, d.Type, cpIndex, encrypted)
	if err != nil {
		return "", err
	}
	run := ss.engine.ExecuteNamed(d.Class, d.Method, d.Descriptor, args...)
	if !run.OK() {
		return "", errors.Wrap(run.Err(), "execution failed")
	}
	if run.ReturnValue.IsNull() {
		return "", errors.New("decryptor returned null")
	}
	if d.Type == StringToBytes {
		b, err := byteArray(ss.heap, run.ReturnValue)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	return ss.heap.ExtractString(run.ReturnValue)
}

// decryptorArgs builds the argument list of a convention. The index form
// receives the constant pool index of the encrypted constant.
func decryptorArgs(h *heap.Manager, t DecryptorType, cpIndex uint16, encrypted string) ([]heap.Value, error) {
	switch t {
	case StringToString, StringToBytes:
		return []heap.Value{heap.Ref(h.InternString(encrypted))}, nil
	case StringIntToString:
		return []heap.Value{heap.Ref(h.InternString(encrypted)), heap.Int(int32(cpIndex))}, nil
	case IntToString:
		return []heap.Value{heap.Int(int32(cpIndex))}, nil
	case BytesToString:
		units := utf16.Encode([]rune(encrypted))
		arr, err := h.NewArray("B", len(units))
		if err != nil {
			return nil, err
		}
		for i, u := range units {
			if err := h.Store(arr, int32(i), heap.Int(int32(int8(u)))); err != nil {
				return nil, err
			}
		}
		return []heap.Value{heap.Ref(arr)}, nil
	}
	return nil, fmt.Errorf("unknown decryptor type %d", int(t))
}

func byteArray(h *heap.Manager, v heap.Value) ([]byte, error) {
	arr, err := h.Array(v.AsRef())
	if err != nil {
		return nil, err
	}
	if arr.ElemType != "B" {
		return nil, fmt.Errorf("decryptor returned %s, want [B", arr.ClassName())
	}
	b := make([]byte, arr.Len())
	for i, e := range arr.Elems {
		b[i] = byte(e.AsInt())
	}
	return b, nil
}

// DecryptAll tries the candidates on every suspicious string in order of
// confidence and keeps the first success. When all candidates fail, the
// last failure is kept.
func (s *Service) DecryptAll(strs []SuspiciousString, candidates []Candidate) []*Result {
	var out []*Result
	for _, str := range strs {
		var last *Result
		for _, c := range candidates {
			last = s.Decrypt(str.Class, str.CPIndex, str.Value, c)
			if last.Success {
				break
			}
		}
		if last != nil {
			out = append(out, last)
		}
	}
	return out
}
