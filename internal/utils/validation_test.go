package utils_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
	"github.com/dataflowslab/core.rompharm-sub001/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateID(t *testing.T) {
	for _, id := range []string{"po-1", "user@example.com", "urn:doc:42", "PO_2026.1"} {
		assert.NoError(t, utils.ValidateID("document_id", id), id)
	}

	for _, id := range []string{"", "a b", "../etc", "po'1", strings.Repeat("x", 65)} {
		err := utils.ValidateID("document_id", id)
		require.Error(t, err, id)
		assert.True(t, errors.Is(err, domain.ErrInvalidArgument), id)
	}
}

func TestValidateName(t *testing.T) {
	name, err := utils.ValidateName("template_name", "  Purchase\u0000 Order  ", 255)
	require.NoError(t, err)
	assert.Equal(t, "Purchase Order", name)

	_, err = utils.ValidateName("template_name", strings.Repeat("n", 10), 5)
	assert.Error(t, err)
}

func TestValidateSort(t *testing.T) {
	clause, err := utils.ValidateSort("created_at", "", "created_at", "updated_at")
	require.NoError(t, err)
	assert.Equal(t, "created_at DESC", clause)

	clause, err = utils.ValidateSort("updated_at", "asc", "created_at", "updated_at")
	require.NoError(t, err)
	assert.Equal(t, "updated_at ASC", clause)

	_, err = utils.ValidateSort("id; DROP TABLE approval_flows", "asc", "created_at")
	assert.Error(t, err)

	_, err = utils.ValidateSort("created_at", "sideways", "created_at")
	assert.Error(t, err)
}
