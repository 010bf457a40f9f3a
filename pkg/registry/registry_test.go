package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mq_agent/pkg/errs"
	"mq_agent/pkg/models"
)

type fakeHandler struct {
	desc     Descriptor
	validate func(models.Args) error
}

func (f *fakeHandler) Descriptor() Descriptor { return f.desc }

func (f *fakeHandler) Execute(ctx context.Context, args models.Args) (interface{}, error) {
	return "ok", nil
}

type validatingHandler struct {
	fakeHandler
}

func (v *validatingHandler) Validate(args models.Args) error {
	return v.validate(args)
}

func TestLookupIsExactMatch(t *testing.T) {
	r := New()
	r.Register(&fakeHandler{desc: Descriptor{Action: "vibrate", Domain: "control", Kind: KindRunOnce}})
	r.Seal()

	_, ok := r.Lookup("vibrate")
	assert.True(t, ok)
	_, ok = r.Lookup("VIBRATE")
	assert.False(t, ok)
	_, ok = r.Lookup("vibrate ")
	assert.False(t, ok)
}

func TestRegisterPanics(t *testing.T) {
	r := New()
	r.Register(&fakeHandler{desc: Descriptor{Action: "a"}})
	assert.Panics(t, func() { r.Register(&fakeHandler{desc: Descriptor{Action: "a"}}) })
	assert.Panics(t, func() { r.Register(&fakeHandler{desc: Descriptor{Action: "bad", Schema: "{"}}) })

	r.Seal()
	assert.Panics(t, func() { r.Register(&fakeHandler{desc: Descriptor{Action: "b"}}) })
	assert.Equal(t, 1, r.Len())
}

func TestValidateSchema(t *testing.T) {
	r := New()
	r.Register(&fakeHandler{desc: Descriptor{
		Action: "read_file",
		Schema: `{"type":"object","required":["path"],"properties":{"path":{"type":"string","minLength":1}}}`,
	}})
	r.Seal()

	err := r.Validate("read_file", models.Args{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrValidation))
	assert.Contains(t, err.Error(), "path is required")

	assert.NoError(t, r.Validate("read_file", models.Args{"path": "/tmp/a"}))
	assert.Error(t, r.Validate("read_file", models.Args{"path": 5}))
}

func TestValidateUnknown(t *testing.T) {
	r := New()
	err := r.Validate("nope", nil)
	assert.EqualError(t, err, "Unknown command: nope")
	assert.True(t, errors.Is(err, errs.ErrUnknownCommand))
}

func TestValidatorRunsAfterSchema(t *testing.T) {
	called := false
	h := &validatingHandler{fakeHandler{
		desc: Descriptor{Action: "set_volume", Schema: `{"type":"object","required":["volume"]}`},
		validate: func(args models.Args) error {
			called = true
			return errs.Validation("Volume out of range")
		},
	}}
	r := New()
	r.Register(h)

	require.Error(t, r.Validate("set_volume", models.Args{}))
	assert.False(t, called)

	err := r.Validate("set_volume", models.Args{"volume": 99})
	assert.EqualError(t, err, "Volume out of range")
	assert.True(t, called)
}

func TestListSorted(t *testing.T) {
	r := New()
	r.Register(&fakeHandler{desc: Descriptor{Action: "b"}})
	r.Register(&fakeHandler{desc: Descriptor{Action: "a"}})
	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Action)
}
