package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestParseLabels_FlattensJSON(t *testing.T) {
	raw := `{"game_elements": ["dice", "board"], "concepts": ["movement"]}`
	assert.Equal(t, []string{"board", "dice", "movement"}, parseLabels(raw))
}

func TestParseLabels_StripsCodeFences(t *testing.T) {
	raw := "```json\n{\"game_elements\": [\"cards\"]}\n```"
	assert.Equal(t, []string{"cards"}, parseLabels(raw))
}

func TestParseLabels_CommaFallback(t *testing.T) {
	assert.Equal(t, []string{"dice", "meeples", "tokens"}, parseLabels("dice, meeples , tokens"))
}

func TestParseLabels_Empty(t *testing.T) {
	assert.Nil(t, parseLabels(""))
	assert.Nil(t, parseLabels("```json```"))
}

func TestClassify_ClientErrorsArePermanent(t *testing.T) {
	for _, code := range []int{400, 404, 413, 415, 422} {
		err := classify(&googleapi.Error{Code: code})
		assert.True(t, IsPermanent(err), "code %d should be permanent", code)
	}
}

func TestClassify_ServerErrorsAreTransient(t *testing.T) {
	for _, code := range []int{429, 500, 503} {
		err := classify(&googleapi.Error{Code: code})
		assert.True(t, IsTransient(err), "code %d should be transient", code)
	}
}

func TestClassify_DeadlineIsTransient(t *testing.T) {
	assert.True(t, IsTransient(classify(context.DeadlineExceeded)))
}

func TestClassify_KeepsExistingClassification(t *testing.T) {
	orig := Permanent(errors.New("already classified"))
	assert.Equal(t, orig, classify(orig))
	assert.True(t, IsPermanent(classify(orig)))
}

func TestCapabilityError_DefaultTransient(t *testing.T) {
	plain := errors.New("no classification")
	assert.True(t, IsTransient(plain))
	assert.False(t, IsPermanent(plain))
	assert.False(t, IsTransient(nil))
}
