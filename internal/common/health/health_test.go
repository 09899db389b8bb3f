package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

type fixedChecker struct {
	err error
}

func (c fixedChecker) Check() error {
	return c.err
}

func TestMultiChecker_AggregatesFailures(t *testing.T) {
	checker := NewMultiChecker(fixedChecker{}, fixedChecker{errors.New("first")})
	checker.Add(fixedChecker{errors.New("second")})

	err := checker.Check()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "first")
	assert.Contains(t, err.Error(), "second")
}

func TestMultiChecker_HealthyWhenAllPass(t *testing.T) {
	assert.NoError(t, NewMultiChecker(fixedChecker{}, fixedChecker{}).Check())
}

func TestCheckHttpHandler(t *testing.T) {
	healthy := httptest.NewRecorder()
	NewCheckHttpHandler(fixedChecker{}).ServeHTTP(healthy, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, healthy.Code)

	unhealthy := httptest.NewRecorder()
	NewCheckHttpHandler(fixedChecker{errors.New("stale")}).ServeHTTP(unhealthy, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, unhealthy.Code)
	assert.Equal(t, "stale", unhealthy.Body.String())
}
