package explorer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/luokaiyi/go-cloudvault/internal/config"
	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fileFixture struct {
	svc   FileService
	files *memFileRepo
	quota *memQuota
	cfg   *config.Config
}

func newFileFixture(t *testing.T, policy *models.Policy) *fileFixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.BaseURL = "https://pan.example.com"
	cfg.Local.BasePath = t.TempDir()
	cfg.Local.TempPath = t.TempDir()

	group := &models.Group{ID: 1, Name: "default", PolicyID: policy.ID, MaxStorage: 1 << 30}
	user := &models.User{ID: 1, Email: "u@example.com", GroupID: 1, Group: group}
	folders := &memFolderRepo{folders: map[string]*models.Folder{
		"/": {ID: 1, OwnerID: 1, Name: "/", PositionAbsolute: "/"},
	}}

	f := &fileFixture{
		files: newMemFileRepo(),
		quota: &memQuota{total: 1 << 30},
		cfg:   cfg,
	}
	f.svc = NewFileService(f.files, folders, &memUserRepo{user: user},
		&memPolicyRepo{policy: policy}, f.quota, noopTM{}, storage.Deps{Config: cfg}, cfg)
	return f
}

func TestDeleteFileRecordsSkipsUnresolvablePolicy(t *testing.T) {
	f := newFileFixture(t, localPolicy())
	f.quota.used = 12

	alive := models.File{UserID: 1, FolderID: 1, Dir: "/", Name: "keep-backend.txt",
		SourceName: "uploads/1/keep.txt", Size: 4, PolicyID: 1}
	orphan := models.File{UserID: 1, FolderID: 1, Dir: "/", Name: "orphan.txt",
		SourceName: "legacy/1/orphan.txt", Size: 8, PolicyID: 99}
	require.NoError(t, f.files.Create(nil, &alive))
	require.NoError(t, f.files.Create(nil, &orphan))

	objPath := filepath.Join(f.cfg.Local.BasePath, "uploads", "1", "keep.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(objPath), 0o755))
	require.NoError(t, os.WriteFile(objPath, []byte("data"), 0o644))

	err := f.svc.DeleteFileRecords(context.Background(), 1, []models.File{alive, orphan})
	require.NoError(t, err)

	// 能构造出适配器的那组正常删除：对象、元数据、配额三者同步
	_, err = os.Stat(objPath)
	assert.True(t, os.IsNotExist(err))
	_, err = f.files.FindByPath(1, "/", "keep-backend.txt")
	assert.Error(t, err)

	// 策略解析不了的那组整体保留，记录还在，配额一分不还
	kept, err := f.files.FindByPath(1, "/", "orphan.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), kept.Size)
	assert.Equal(t, []uint64{4}, f.quota.released)
	assert.Equal(t, uint64(8), f.quota.used)
}
