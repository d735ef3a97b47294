package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tr, err := New(English, nil)
	require.NoError(t, err)

	msg, err := tr.Render("EXPENSE_PENDING_APPROVAL", map[string]string{
		"amount":      "90.00",
		"currency":    "EUR",
		"group":       "Lisbon trip",
		"description": "Dinner",
	})
	require.NoError(t, err)
	assert.Equal(t, "Expense awaiting approval", msg.Title)
	assert.Equal(t, `New expense of 90.00 EUR in "Lisbon trip": Dinner`, msg.Body)
}

func TestRender_OptionalReason(t *testing.T) {
	tr, err := New(English, nil)
	require.NoError(t, err)

	msg, err := tr.Render("EXPENSE_REJECTED", map[string]string{"description": "Taxi"})
	require.NoError(t, err)
	assert.Equal(t, `Your expense "Taxi" was rejected by the group owner.`, msg.Body)

	msg, err = tr.Render("EXPENSE_REJECTED", map[string]string{"description": "Taxi", "reason": "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, `Your expense "Taxi" was rejected by the group owner. Reason: duplicate`, msg.Body)
}

func TestRender_UnknownKey(t *testing.T) {
	tr, err := New(Portuguese, nil)
	require.NoError(t, err)

	_, err = tr.Render("PAYMENT_RECEIVED", nil)
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestSetLanguage_ClearsCache(t *testing.T) {
	// GIVEN: a translator that has rendered a Portuguese message
	// WHEN: the language changes to English
	// THEN: the cache is emptied and the next render is in English

	cache := NewMapCache()
	tr, err := New(Portuguese, cache)
	require.NoError(t, err)

	msg, err := tr.Render("GROUP_CREATED", map[string]string{"group": "Casa"})
	require.NoError(t, err)
	assert.Equal(t, "Grupo criado", msg.Title)
	assert.Equal(t, 2, cache.Len())

	// Same language keeps the cache.
	require.NoError(t, tr.SetLanguage(Portuguese))
	assert.Equal(t, 2, cache.Len())

	require.NoError(t, tr.SetLanguage(English))
	assert.Equal(t, 0, cache.Len())

	msg, err = tr.Render("GROUP_CREATED", map[string]string{"group": "Casa"})
	require.NoError(t, err)
	assert.Equal(t, "Group created", msg.Title)
	assert.Equal(t, English, tr.Language())
}

func TestSetLanguage_Unsupported(t *testing.T) {
	_, err := New(Language("fr"), nil)
	assert.Error(t, err)
}

func TestMatch(t *testing.T) {
	tests := []struct {
		prefs []string
		want  Language
	}{
		{[]string{"pt-BR"}, Portuguese},
		{[]string{"en-GB,en;q=0.8"}, English},
		{[]string{"de"}, Portuguese},
		{nil, Portuguese},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.prefs...), "prefs %v", tt.prefs)
	}
}

func TestCatalog_LanguagesHaveSameKeys(t *testing.T) {
	for key := range catalog[Portuguese] {
		_, ok := catalog[English][key]
		assert.True(t, ok, "english catalog misses %s", key)
	}
	assert.Len(t, catalog[English], len(catalog[Portuguese]))
}
