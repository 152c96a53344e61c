package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/auth"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/storage"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remotePolicy() *models.Policy {
	return &models.Policy{
		ID:        1,
		Name:      "从机存储",
		Type:      models.PolicyTypeRemote,
		Server:    "http://slave.internal:5212",
		SecretKey: "slave-secret",
		DirRule:   "uploads/{uid}",
	}
}

func remoteCallbackRequest(t *testing.T, path string, body []byte, sign string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+sign)
	return req
}

func TestProcessRemoteBadSignatureKeepsTicket(t *testing.T) {
	f := newUploadFixture(t, remotePolicy())
	cb := NewCallbackService(f.tickets, f.policies, f.svc, f.quota,
		storage.Deps{Config: f.cfg}, f.cfg)

	ticket := &models.CallbackTicket{
		Key: "tk-1", PolicyID: 1, UserID: 1,
		Dir: "/", Name: "data.bin", ObjName: "uploads/1/data.bin",
	}
	require.NoError(t, f.tickets.Create(ticket))

	body, err := json.Marshal(remoteCallbackBody{ObjName: "uploads/1/data.bin", Size: 3})
	require.NoError(t, err)
	path := "/api/v1/callbacks/remote/tk-1"

	// 坏签名拒绝之余不得消费凭证，否则一个残包就废掉一次合法上传
	req := remoteCallbackRequest(t, path, body, "bogus:0")
	_, err = cb.ProcessRemote(context.Background(), req, "tk-1", body)
	assert.ErrorIs(t, err, xerr.ErrUntrusted)

	kept, err := f.tickets.GetByKey("tk-1")
	require.NoError(t, err)
	assert.Equal(t, "uploads/1/data.bin", kept.ObjName)

	// 同一张票随后仍可被合法回调兑现
	sign := auth.SignRequestBody(auth.New("slave-secret"), http.MethodPost, path, body, time.Hour)
	req = remoteCallbackRequest(t, path, body, sign)
	file, err := cb.ProcessRemote(context.Background(), req, "tk-1", body)
	require.NoError(t, err)
	assert.Equal(t, "data.bin", file.Name)
	assert.Equal(t, uint64(3), file.Size)
	assert.Equal(t, uint64(3), f.quota.used)

	// 兑现后的重放才算票已消费
	req = remoteCallbackRequest(t, path, body, sign)
	_, err = cb.ProcessRemote(context.Background(), req, "tk-1", body)
	assert.ErrorIs(t, err, xerr.ErrTicketNotFound)
}
