package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTaggedRequest() *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/journal", nil)
	return InjectTags(r)
}

func TestInjectTags_Empty(t *testing.T) {
	tags := GetTags(newTaggedRequest())
	require.NotNil(t, tags)
	require.Empty(t, tags.Route)
	require.Empty(t, tags.Package)
}

func TestGetTags_NilWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/journal", nil)
	require.Nil(t, GetTags(r))
}

func TestSetRouteAndPackage(t *testing.T) {
	r := newTaggedRequest()
	SetRoute(r, "journal")
	SetPackage(r, "acme.web@1.0.0")
	require.Equal(t, "journal", GetTags(r).Route)
	require.Equal(t, "acme.web@1.0.0", GetTags(r).Package)
}

func TestSetters_NoopWithoutInject(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/journal", nil)
	SetRoute(r, "journal")
	SetPackage(r, "x@1.0.0")
	require.Nil(t, GetTags(r))
}

func TestTriggerFromContext(t *testing.T) {
	require.Equal(t, TriggerManual, TriggerFromContext(context.Background()))

	ctx := WithTrigger(context.Background(), TriggerScheduled)
	require.Equal(t, TriggerScheduled, TriggerFromContext(ctx))
}
