package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/licenceworks/hmo-audit/pkg/nlp"
)

func TestTabularRows_CSVQuotedCommas(t *testing.T) {
	text := "Licence Number,Property Address\nHMO1,\"12 High Street, Leeds, LS1 4AB\"\n"
	rows, err := tabularRows("csv", text)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "12 High Street, Leeds, LS1 4AB", rows[1][1])
}

func TestTabularRows_TabSeparated(t *testing.T) {
	text := "Licence Number\tCouncil\nHMO1\tLeeds City Council\n\n"
	rows, err := tabularRows("xlsx", text)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Leeds City Council", rows[1][1])
}

func TestUsableFields(t *testing.T) {
	assert.False(t, usableFields(nlp.Fields{}))
	assert.True(t, usableFields(nlp.Fields{nlp.KeyLicenceReference: {Text: "HMO1"}}))

	// Three fields without a reference still count as a usable record.
	assert.False(t, usableFields(nlp.Fields{nlp.KeyCouncil: {}, nlp.KeyHMOAddress: {}}))
	assert.True(t, usableFields(nlp.Fields{
		nlp.KeyCouncil:    {},
		nlp.KeyHMOAddress: {},
		nlp.KeyStoreys:    {},
	}))
}
