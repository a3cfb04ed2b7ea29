package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEquivalentDynamicAliasForms(t *testing.T) {
	assert.True(t, Equivalent("python@3.12", "python3.12"))
	assert.True(t, Equivalent("python@3.12", "python312"))
	assert.True(t, Equivalent("python3.12", "python312"))
}

func TestEquivalentRejectsDifferentVersions(t *testing.T) {
	assert.False(t, Equivalent("python@3.12", "python@3.11"))
}

func TestEquivalentRejectsNonVersionSensitiveBase(t *testing.T) {
	assert.False(t, Equivalent("wget@1.21", "wget121"))
}

func TestCanonicalFormIsBaseAtMajorMinor(t *testing.T) {
	assert.Equal(t, "python@3.12", Canonical("python312"))
	assert.Equal(t, "wget", Canonical("wget"))
}
