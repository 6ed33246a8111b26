package app

import (
	"testing"

	errprocess "realtime_chat_service/pkg/err"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	assert.Equal(t, 403, statusOf(errprocess.NotAMember))
	assert.Equal(t, 404, statusOf(errprocess.NotFound))
	assert.Equal(t, 400, statusOf(errprocess.InvalidReply))
	assert.Equal(t, 503, statusOf(errprocess.Transient))
	assert.Equal(t, 500, statusOf(""))
}
