package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct {
	Name  string
	Shell string
	Umask int64
}

var accountLayout = MustLayout(
	Step[account]{
		Name:   "name",
		Encode: func(e *Encoder, a *account) error { return e.WriteString(a.Name) },
		Decode: func(d *Decoder, a *account) (err error) { a.Name, err = d.ReadString(); return },
	},
	Step[account]{
		Name:   "shell",
		Since:  V1_44,
		Encode: func(e *Encoder, a *account) error { return e.WriteString(a.Shell) },
		Decode: func(d *Decoder, a *account) (err error) { a.Shell, err = d.ReadString(); return },
	},
	Step[account]{
		Name:    "umask",
		Since:   V1_80,
		Encode:  func(e *Encoder, a *account) error { return e.WriteCompactInt(a.Umask) },
		Decode:  func(d *Decoder, a *account) (err error) { a.Umask, err = d.ReadCompactInt(); return },
		Default: func(a *account) { a.Umask = 0o077 },
	},
)

func roundTrip(t *testing.T, v Version, in account) (account, int) {
	t.Helper()
	var buf bytes.Buffer
	e := NewEncoder(&buf, v)
	require.NoError(t, accountLayout.Encode(e, &in))
	require.NoError(t, e.Flush())
	n := buf.Len()

	var out account
	d := NewDecoder(&buf, v, DefaultLimits())
	require.NoError(t, accountLayout.Decode(d, &out))
	assert.False(t, d.More(), "decoder left bytes at %s", v)
	return out, n
}

func TestLayoutRoundTripEveryVersion(t *testing.T) {
	in := account{Name: "root", Shell: "/bin/bash", Umask: 0o022}
	for _, v := range Versions() {
		out, _ := roundTrip(t, v, in)
		assert.Equal(t, in.Name, out.Name, "version %s", v)
		if v.AtLeast(V1_44) {
			assert.Equal(t, in.Shell, out.Shell, "version %s", v)
		} else {
			assert.Empty(t, out.Shell, "version %s", v)
		}
		if v.AtLeast(V1_80) {
			assert.Equal(t, in.Umask, out.Umask, "version %s", v)
		} else {
			assert.Equal(t, int64(0o077), out.Umask, "version %s", v)
		}
	}
}

func TestLayoutOlderVersionWritesFewerBytes(t *testing.T) {
	in := account{Name: "root", Shell: "/bin/sh", Umask: 0o022}
	_, old := roundTrip(t, V1_62, in)
	_, cur := roundTrip(t, V1_80, in)
	assert.Equal(t, CompactLen(0o022), cur-old)
}

func TestLayoutActive(t *testing.T) {
	assert.Equal(t, []string{"name"}, accountLayout.Active(V1_30))
	assert.Equal(t, []string{"name", "shell"}, accountLayout.Active(V1_62))
	assert.Equal(t, []string{"name", "shell", "umask"}, accountLayout.Active(Current))
	assert.Equal(t, 3, accountLayout.Len())
}

func TestLayoutUntil(t *testing.T) {
	l := MustLayout(Step[account]{
		Name:   "legacy",
		Until:  V1_44,
		Encode: func(e *Encoder, a *account) error { return e.WriteString(a.Name) },
		Decode: func(d *Decoder, a *account) (err error) { a.Name, err = d.ReadString(); return },
	})
	assert.Equal(t, []string{"legacy"}, l.Active(V1_44))
	assert.Empty(t, l.Active(V1_62))
}

func TestLayoutDecodeErrorNamesStep(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf, Current)
	require.NoError(t, e.WriteString("root"))
	require.NoError(t, e.Flush())

	var out account
	err := accountLayout.Decode(NewDecoder(&buf, Current, DefaultLimits()), &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFraming)
	assert.Contains(t, err.Error(), "decode shell")
}

func TestNewLayoutRejectsInvalidSteps(t *testing.T) {
	enc := func(e *Encoder, a *account) error { return nil }
	dec := func(d *Decoder, a *account) error { return nil }

	_, err := NewLayout(Step[account]{Encode: enc, Decode: dec})
	assert.ErrorIs(t, err, ErrInvalidLayout)

	_, err = NewLayout(
		Step[account]{Name: "a", Encode: enc, Decode: dec},
		Step[account]{Name: "a", Encode: enc, Decode: dec},
	)
	assert.ErrorIs(t, err, ErrInvalidLayout)

	_, err = NewLayout(Step[account]{Name: "a", Encode: enc})
	assert.ErrorIs(t, err, ErrInvalidLayout)

	_, err = NewLayout(Step[account]{Name: "a", Since: V1_80, Until: V1_44, Encode: enc, Decode: dec})
	assert.ErrorIs(t, err, ErrInvalidLayout)

	assert.Panics(t, func() { MustLayout(Step[account]{}) })
}
