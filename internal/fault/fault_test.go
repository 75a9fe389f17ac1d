package fault

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "straznik/pkg/logx"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"unknown message code", &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: 10008}}, true},
		{"unknown member code", &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: 10007}}, true},
		{"http 404", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}, true},
		{"missing permissions", &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: 50013}}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify("fetch", tc.err)
			require.Error(t, got)
			assert.Equal(t, tc.notFound, errors.Is(got, ErrNotFound))
			assert.Equal(t, !tc.notFound, errors.Is(got, ErrTransient))
			assert.True(t, errors.Is(got, tc.err), "cause must stay reachable")
		})
	}
}

func TestClassifyKeepsExistingClass(t *testing.T) {
	err := NotFound("member", errors.New("gone"))
	assert.Same(t, err, Classify("other", err))
	assert.NoError(t, Classify("nil", nil))
}

func TestLogPolicy(t *testing.T) {
	var buf bytes.Buffer
	log := logx.NewWriter(&buf, "debug")

	Log(log, "fetch", NotFound("fetch", errors.New("gone")))
	assert.Contains(t, buf.String(), `"level":"debug"`)

	buf.Reset()
	Log(log, "send", Transient("send", errors.New("timeout")))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"op":"send"`)

	buf.Reset()
	Log(log, "send", context.Canceled)
	Log(log, "send", nil)
	assert.Empty(t, buf.String())
}
