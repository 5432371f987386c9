package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeSignatureIsDeterministic(t *testing.T) {
	a := ComputeSignature("shh", []byte(`{"a":1}`))
	b := ComputeSignature("shh", []byte(`{"a":1}`))
	assert.Equal(t, a, b)
}

func TestComputeSignatureChangesWithInputs(t *testing.T) {
	base := ComputeSignature("shh", []byte(`{"a":1}`))

	assert.NotEqual(t, base, ComputeSignature("other", []byte(`{"a":1}`)))
	assert.NotEqual(t, base, ComputeSignature("shh", []byte(`{"a":2}`)))
}
