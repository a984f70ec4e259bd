package native

import (
	"fmt"
	"strings"

	"github.com/daimatz/jvmexec/pkg/heap"
)

const (
	objectClass    = "java/lang/Object"
	classClass     = "java/lang/Class"
	throwableClass = "java/lang/Throwable"
)

func registerLang(r *Registry) {
	for _, c := range []string{objectClass, classClass, throwableClass, "java/lang/Thread", "java/lang/Runtime"} {
		r.RegisterClassInit(c, noop)
	}
	r.Register(objectClass, "registerNatives", "()V", void)
	r.Register(objectClass, "<init>", "()V", void)
	r.Register(objectClass, "hashCode", "()I", func(env Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
		return heap.Int(env.Heap().IdentityHash(this.AsRef())), nil
	})
	r.Register(objectClass, "equals", "(Ljava/lang/Object;)Z", func(_ Env, this heap.Value, args []heap.Value) (heap.Value, error) {
		return heap.Bool(this == args[0]), nil
	})
	r.Register(objectClass, "getClass", "()Ljava/lang/Class;", func(env Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
		name, err := env.Heap().ClassOf(this.AsRef())
		if err != nil {
			return heap.Value{}, err
		}
		return env.ClassObject(name)
	})
	r.Register(objectClass, "toString", "()Ljava/lang/String;", func(env Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
		return heap.Ref(env.Heap().NewGoString(identityString(env, this))), nil
	})

	r.Register(classClass, "registerNatives", "()V", void)
	r.Register(classClass, "desiredAssertionStatus", "()Z", func(Env, heap.Value, []heap.Value) (heap.Value, error) {
		return heap.Int(0), nil
	})
	r.Register(classClass, "getName", "()Ljava/lang/String;", func(env Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
		obj, err := env.Heap().Object(this.AsRef())
		if err != nil {
			return heap.Value{}, err
		}
		name, _ := obj.Native.(string)
		return heap.Ref(env.Heap().InternString(strings.ReplaceAll(name, "/", "."))), nil
	})

	registerThrowable(r)
}

func identityString(env Env, v heap.Value) string {
	if v.IsNull() {
		return "null"
	}
	name, err := env.Heap().ClassOf(v.AsRef())
	if err != nil {
		name = "?"
	}
	return fmt.Sprintf("%s@%x", strings.ReplaceAll(name, "/", "."), uint32(env.Heap().IdentityHash(v.AsRef())))
}

func registerThrowable(r *Registry) {
	setMessage := func(env Env, this, msg, cause heap.Value) error {
		h := env.Heap()
		if err := h.SetField(this.AsRef(), throwableClass, "detailMessage", msg); err != nil {
			return err
		}
		// cause == this means no cause was set.
		return h.SetField(this.AsRef(), throwableClass, "cause", cause)
	}
	r.Register(throwableClass, "<init>", "()V", func(env Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
		return heap.Value{}, setMessage(env, this, heap.Null, this)
	})
	r.Register(throwableClass, "<init>", "(Ljava/lang/String;)V", func(env Env, this heap.Value, args []heap.Value) (heap.Value, error) {
		return heap.Value{}, setMessage(env, this, args[0], this)
	})
	r.Register(throwableClass, "<init>", "(Ljava/lang/String;Ljava/lang/Throwable;)V", func(env Env, this heap.Value, args []heap.Value) (heap.Value, error) {
		return heap.Value{}, setMessage(env, this, args[0], args[1])
	})
	r.Register(throwableClass, "<init>", "(Ljava/lang/Throwable;)V", func(env Env, this heap.Value, args []heap.Value) (heap.Value, error) {
		msg := heap.Null
		if !args[0].IsNull() {
			msg = heap.Ref(env.Heap().NewGoString(ThrowableString(env.Heap(), args[0])))
		}
		return heap.Value{}, setMessage(env, this, msg, args[0])
	})
	getMessage := func(env Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
		return env.Heap().GetField(this.AsRef(), throwableClass, "detailMessage")
	}
	r.Register(throwableClass, "getMessage", "()Ljava/lang/String;", getMessage)
	r.Register(throwableClass, "getLocalizedMessage", "()Ljava/lang/String;", getMessage)
	r.Register(throwableClass, "getCause", "()Ljava/lang/Throwable;", func(env Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
		cause, err := env.Heap().GetField(this.AsRef(), throwableClass, "cause")
		if err != nil || cause == this {
			return heap.Null, nil
		}
		return cause, nil
	})
	self := func(_ Env, this heap.Value, _ []heap.Value) (heap.Value, error) { return this, nil }
	r.Register(throwableClass, "fillInStackTrace", "()Ljava/lang/Throwable;", self)
	r.Register(throwableClass, "fillInStackTrace", "(I)Ljava/lang/Throwable;", self)
	r.Register(throwableClass, "toString", "()Ljava/lang/String;", func(env Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
		return heap.Ref(env.Heap().NewGoString(ThrowableString(env.Heap(), this))), nil
	})
	r.Register(throwableClass, "printStackTrace", "()V", func(env Env, this heap.Value, _ []heap.Value) (heap.Value, error) {
		env.Print(Stderr, ThrowableString(env.Heap(), this)+"\n")
		return heap.Value{}, nil
	})
}

// ThrowableMessage returns the detail message of a throwable, or "" when
// it has none.
func ThrowableMessage(h *heap.Manager, v heap.Value) string {
	if v.IsNull() {
		return ""
	}
	msg, err := h.GetField(v.AsRef(), throwableClass, "detailMessage")
	if err != nil || msg.IsNull() {
		return ""
	}
	s, err := h.ExtractString(msg)
	if err != nil {
		return ""
	}
	return s
}

// ThrowableString renders a throwable like Throwable.toString.
func ThrowableString(h *heap.Manager, v heap.Value) string {
	name, err := h.ClassOf(v.AsRef())
	if err != nil {
		return "null"
	}
	name = strings.ReplaceAll(name, "/", ".")
	if msg := ThrowableMessage(h, v); msg != "" {
		return name + ": " + msg
	}
	return name
}
