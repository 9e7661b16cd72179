package multierror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMultiError_Error(t *testing.T) {
	m := New[string]()
	m.Add("1", errors.New("error1"))
	m.Add("2", errors.New("error2"))
	m.Add("3", nil)
	assert.Equal(t, "1: error1; 2: error2", m.Error())
}

func TestMultiError_Combined(t *testing.T) {
	m := New[string]()
	assert.Nil(t, m.Combined())

	sentinel := errors.New("error")
	m.Add("1", sentinel)
	assert.NotNil(t, m.Combined())
	assert.ErrorIs(t, m.Combined(), sentinel)
}
