package services

import (
	"testing"
	"time"

	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeUserRepo 内存版用户仓储，Storage 增减模拟数据库的原子语义
type fakeUserRepo struct {
	user  models.User
	group models.Group
	packs []models.StoragePack
}

func (f *fakeUserRepo) GetUserByID(id uint64) (*models.User, error) {
	if id != f.user.ID {
		return nil, xerr.ErrUserNotFound
	}
	u := f.user
	u.Group = &f.group
	return &u, nil
}

func (f *fakeUserRepo) GetGroupByID(id uint64) (*models.Group, error) {
	return &f.group, nil
}

func (f *fakeUserRepo) GetActivePacks(userID uint64, now time.Time) ([]models.StoragePack, error) {
	var active []models.StoragePack
	for _, p := range f.packs {
		if p.IsActive(now) {
			active = append(active, p)
		}
	}
	return active, nil
}

func (f *fakeUserRepo) IncreaseStorage(tx *gorm.DB, userID uint64, size uint64) error {
	f.user.Storage += size
	return nil
}

func (f *fakeUserRepo) DeductStorage(tx *gorm.DB, userID uint64, size uint64) error {
	if size > f.user.Storage {
		f.user.Storage = 0
		return nil
	}
	f.user.Storage -= size
	return nil
}

func newFakeUserRepo(used, groupMax uint64) *fakeUserRepo {
	return &fakeUserRepo{
		user:  models.User{ID: 1, GroupID: 1, Storage: used},
		group: models.Group{ID: 1, MaxStorage: groupMax},
	}
}

func TestQuotaTotalQuota(t *testing.T) {
	expired := time.Now().Add(-time.Hour)
	active := time.Now().Add(time.Hour)

	repo := newFakeUserRepo(0, 1000)
	repo.packs = []models.StoragePack{
		{UserID: 1, Size: 500, ExpiredAt: &active},
		{UserID: 1, Size: 300, ExpiredAt: &expired}, // 过期包不计入
		{UserID: 1, Size: 200, ExpiredAt: nil},      // 永久包计入
	}

	total, err := NewQuotaService(repo).TotalQuota(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1700), total)
}

func TestQuotaCheck(t *testing.T) {
	svc := NewQuotaService(newFakeUserRepo(800, 1000))

	assert.NoError(t, svc.Check(1, 200))
	assert.ErrorIs(t, svc.Check(1, 201), xerr.ErrQuotaExceeded)
	assert.NoError(t, svc.Check(1, 0))
}

func TestQuotaCheckDoesNotReserve(t *testing.T) {
	repo := newFakeUserRepo(0, 1000)
	svc := NewQuotaService(repo)

	// Check 不占位，连续校验互不影响
	require.NoError(t, svc.Check(1, 1000))
	require.NoError(t, svc.Check(1, 1000))
	assert.Equal(t, uint64(0), repo.user.Storage)
}

func TestQuotaCommitAndRelease(t *testing.T) {
	repo := newFakeUserRepo(0, 1000)
	svc := NewQuotaService(repo)

	require.NoError(t, svc.Commit(nil, 1, 400))
	assert.Equal(t, uint64(400), repo.user.Storage)

	require.NoError(t, svc.Release(nil, 1, 150))
	assert.Equal(t, uint64(250), repo.user.Storage)

	// 归还超过占用量时钳到 0，不会下溢
	require.NoError(t, svc.Release(nil, 1, 9999))
	assert.Equal(t, uint64(0), repo.user.Storage)
}

func TestQuotaConservation(t *testing.T) {
	repo := newFakeUserRepo(0, 10000)
	svc := NewQuotaService(repo)

	// 模拟一批上传：每笔先 Check 后 Commit，失败的那笔 Release
	sizes := []uint64{100, 200, 300}
	for _, size := range sizes {
		require.NoError(t, svc.Check(1, size))
		require.NoError(t, svc.Commit(nil, 1, size))
	}
	require.NoError(t, svc.Release(nil, 1, 200)) // 第二笔失败回滚

	assert.Equal(t, uint64(400), repo.user.Storage)
}

func TestQuotaUnknownUser(t *testing.T) {
	svc := NewQuotaService(newFakeUserRepo(0, 1000))
	assert.ErrorIs(t, svc.Check(42, 1), xerr.ErrUserNotFound)
}
