package explorer

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/luokaiyi/go-cloudvault/internal/config"
	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/storage"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// ---- 内存假实现，覆盖上传链路会触碰的仓储 ----

type memFileRepo struct {
	nextID uint64
	files  map[string]*models.File // dir + "\x00" + name
}

func newMemFileRepo() *memFileRepo {
	return &memFileRepo{nextID: 1, files: map[string]*models.File{}}
}

func fileKey(dir, name string) string { return dir + "\x00" + name }

func (r *memFileRepo) Create(tx *gorm.DB, file *models.File) error {
	key := fileKey(file.Dir, file.Name)
	if _, ok := r.files[key]; ok {
		return xerr.ErrNameConflict
	}
	file.ID = r.nextID
	r.nextID++
	r.files[key] = file
	return nil
}

func (r *memFileRepo) FindByID(id uint64) (*models.File, error) {
	for _, f := range r.files {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, xerr.ErrFileNotFound
}

func (r *memFileRepo) FindByUserIDAndID(userID, id uint64) (*models.File, error) {
	f, err := r.FindByID(id)
	if err != nil || f.UserID != userID {
		return nil, xerr.ErrFileNotFound
	}
	return f, nil
}

func (r *memFileRepo) FindByPath(userID uint64, dir, name string) (*models.File, error) {
	f, ok := r.files[fileKey(dir, name)]
	if !ok || f.UserID != userID {
		return nil, xerr.ErrFileNotFound
	}
	return f, nil
}

func (r *memFileRepo) FindByIDs(userID uint64, ids []uint64) ([]models.File, error) {
	var out []models.File
	for _, id := range ids {
		if f, err := r.FindByUserIDAndID(userID, id); err == nil {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r *memFileRepo) ListByFolderID(userID, folderID uint64) ([]models.File, error) {
	var out []models.File
	for _, f := range r.files {
		if f.UserID == userID && f.FolderID == folderID {
			out = append(out, *f)
		}
	}
	return out, nil
}

func (r *memFileRepo) ListByDirPrefix(uint64, string) ([]models.File, error) { return nil, nil }
func (r *memFileRepo) SearchByName(uint64, string) ([]models.File, error)    { return nil, nil }
func (r *memFileRepo) Update(tx *gorm.DB, file *models.File) error {
	r.files[fileKey(file.Dir, file.Name)] = file
	return nil
}
func (r *memFileRepo) UpdateDirInBatch(*gorm.DB, uint64, string, string) error { return nil }

func (r *memFileRepo) DeleteByIDs(tx *gorm.DB, ids []uint64) error {
	for _, id := range ids {
		for key, f := range r.files {
			if f.ID == id {
				delete(r.files, key)
			}
		}
	}
	return nil
}

type memFolderRepo struct {
	folders map[string]*models.Folder // position_absolute
}

func (r *memFolderRepo) Create(tx *gorm.DB, folder *models.Folder) error { return nil }

func (r *memFolderRepo) FindByID(ownerID, id uint64) (*models.Folder, error) {
	for _, f := range r.folders {
		if f.ID == id && f.OwnerID == ownerID {
			return f, nil
		}
	}
	return nil, xerr.ErrFolderNotFound
}

func (r *memFolderRepo) FindByPositionAbsolute(ownerID uint64, position string) (*models.Folder, error) {
	f, ok := r.folders[position]
	if !ok || f.OwnerID != ownerID {
		return nil, xerr.ErrFolderNotFound
	}
	return f, nil
}

func (r *memFolderRepo) ListChildren(uint64, uint64) ([]models.Folder, error) { return nil, nil }
func (r *memFolderRepo) ListByPositionPrefix(uint64, string) ([]models.Folder, error) {
	return nil, nil
}
func (r *memFolderRepo) Update(*gorm.DB, *models.Folder) error                        { return nil }
func (r *memFolderRepo) RewritePositionPrefix(*gorm.DB, uint64, string, string) error { return nil }
func (r *memFolderRepo) DeleteByIDs(*gorm.DB, []uint64) error                         { return nil }

type memChunkRepo struct {
	nextID uint64
	chunks []models.Chunk
}

func (r *memChunkRepo) Create(tx *gorm.DB, chunk *models.Chunk) error {
	for _, c := range r.chunks {
		if c.UserID == chunk.UserID && c.Ctx == chunk.Ctx && c.Index == chunk.Index {
			return xerr.ErrChunkExists
		}
	}
	r.nextID++
	chunk.ID = r.nextID
	r.chunks = append(r.chunks, *chunk)
	return nil
}

func (r *memChunkRepo) FindByCtxIndex(userID uint64, ctx string, index int) (*models.Chunk, error) {
	for i := range r.chunks {
		c := r.chunks[i]
		if c.UserID == userID && c.Ctx == ctx && c.Index == index {
			return &c, nil
		}
	}
	return nil, xerr.ErrChunkMissing
}

func (r *memChunkRepo) UpdateSize(tx *gorm.DB, id uint64, size uint64) error {
	for i := range r.chunks {
		if r.chunks[i].ID == id {
			r.chunks[i].Size = size
			return nil
		}
	}
	return xerr.ErrChunkMissing
}

func (r *memChunkRepo) ListByCtx(userID uint64, ctx string) ([]models.Chunk, error) {
	var out []models.Chunk
	for _, c := range r.chunks {
		if c.UserID == userID && c.Ctx == ctx {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (r *memChunkRepo) CountByCtx(userID uint64, ctx string) (int64, error) {
	chunks, _ := r.ListByCtx(userID, ctx)
	return int64(len(chunks)), nil
}

func (r *memChunkRepo) SumSizeByCtx(userID uint64, ctx string) (uint64, error) {
	chunks, _ := r.ListByCtx(userID, ctx)
	var total uint64
	for _, c := range chunks {
		total += c.Size
	}
	return total, nil
}

func (r *memChunkRepo) DeleteByCtx(tx *gorm.DB, userID uint64, ctx string) error {
	kept := r.chunks[:0]
	for _, c := range r.chunks {
		if !(c.UserID == userID && c.Ctx == ctx) {
			kept = append(kept, c)
		}
	}
	r.chunks = kept
	return nil
}

func (r *memChunkRepo) ListExpiredCtxs(time.Time) ([]string, error) { return nil, nil }

func (r *memChunkRepo) ListByCtxAny(ctx string) ([]models.Chunk, error) {
	return r.ListByCtx(1, ctx)
}

type memTicketRepo struct {
	tickets map[string]*models.CallbackTicket
}

func (r *memTicketRepo) Create(ticket *models.CallbackTicket) error {
	r.tickets[ticket.Key] = ticket
	return nil
}

func (r *memTicketRepo) GetByKey(key string) (*models.CallbackTicket, error) {
	t, ok := r.tickets[key]
	if !ok {
		return nil, xerr.ErrTicketNotFound
	}
	return t, nil
}

func (r *memTicketRepo) Consume(key string) (*models.CallbackTicket, error) {
	t, ok := r.tickets[key]
	if !ok {
		return nil, xerr.ErrTicketNotFound
	}
	delete(r.tickets, key)
	return t, nil
}

func (r *memTicketRepo) DeleteExpired(time.Time) (int64, error) { return 0, nil }

type memTaskRepo struct {
	nextID uint64
	tasks  map[uint64]*models.UploadTask
}

func (r *memTaskRepo) Create(task *models.UploadTask) error {
	r.nextID++
	task.ID = r.nextID
	stored := *task
	r.tasks[task.ID] = &stored
	return nil
}

func (r *memTaskRepo) FindByID(id uint64) (*models.UploadTask, error) {
	t, ok := r.tasks[id]
	if !ok {
		return nil, xerr.ErrTaskNotFound
	}
	return t, nil
}

func (r *memTaskRepo) MarkSuccess(id uint64) error {
	if t, ok := r.tasks[id]; ok {
		t.Status = models.TaskStatusSuccess
	}
	return nil
}

func (r *memTaskRepo) MarkError(id uint64, errMsg string) error {
	if t, ok := r.tasks[id]; ok {
		t.Status = models.TaskStatusError
		t.ErrMsg = errMsg
	}
	return nil
}

func (r *memTaskRepo) IncrementRetries(id uint64) error {
	if t, ok := r.tasks[id]; ok {
		t.Retries++
	}
	return nil
}

func (r *memTaskRepo) ListStale(time.Time) ([]models.UploadTask, error) { return nil, nil }

type memPolicyRepo struct {
	policy *models.Policy
}

func (r *memPolicyRepo) Create(*models.Policy) error { return nil }

func (r *memPolicyRepo) GetByID(id uint64) (*models.Policy, error) {
	if r.policy == nil || r.policy.ID != id {
		return nil, xerr.ErrPolicyNotFound
	}
	return r.policy, nil
}

func (r *memPolicyRepo) GetAll() ([]models.Policy, error)                     { return nil, nil }
func (r *memPolicyRepo) Update(*models.Policy) error                          { return nil }
func (r *memPolicyRepo) UpdateToken(uint64, string, string, *time.Time) error { return nil }
func (r *memPolicyRepo) Delete(uint64) error                                  { return nil }

type memUserRepo struct {
	user *models.User
}

func (r *memUserRepo) GetUserByID(id uint64) (*models.User, error) {
	if r.user == nil || r.user.ID != id {
		return nil, xerr.ErrUserNotFound
	}
	return r.user, nil
}

func (r *memUserRepo) GetGroupByID(id uint64) (*models.Group, error) {
	if r.user != nil && r.user.Group != nil && r.user.Group.ID == id {
		return r.user.Group, nil
	}
	return nil, xerr.ErrUserNotFound
}

func (r *memUserRepo) GetActivePacks(uint64, time.Time) ([]models.StoragePack, error) {
	return nil, nil
}
func (r *memUserRepo) IncreaseStorage(*gorm.DB, uint64, uint64) error { return nil }
func (r *memUserRepo) DeductStorage(*gorm.DB, uint64, uint64) error   { return nil }

// memQuota 配额账目的内存实现，记录每次 Release 便于断言补偿行为
type memQuota struct {
	total    uint64
	used     uint64
	released []uint64
}

func (q *memQuota) TotalQuota(uint64) (uint64, error) { return q.total, nil }

func (q *memQuota) Check(userID uint64, size uint64) error {
	if q.used+size > q.total {
		return xerr.ErrQuotaExceeded
	}
	return nil
}

func (q *memQuota) Commit(tx *gorm.DB, userID uint64, size uint64) error {
	q.used += size
	return nil
}

func (q *memQuota) Release(tx *gorm.DB, userID uint64, size uint64) error {
	q.released = append(q.released, size)
	if q.used >= size {
		q.used -= size
	} else {
		q.used = 0
	}
	return nil
}

type noopTM struct{}

func (noopTM) WithTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type uploadFixture struct {
	svc      UploadService
	files    *memFileRepo
	chunks   *memChunkRepo
	tickets  *memTicketRepo
	tasks    *memTaskRepo
	policies *memPolicyRepo
	quota    *memQuota
	cfg      *config.Config
}

func newUploadFixture(t *testing.T, policy *models.Policy) *uploadFixture {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.BaseURL = "https://pan.example.com"
	cfg.Local.BasePath = t.TempDir()
	cfg.Local.TempPath = t.TempDir()
	cfg.Upload.ChunkSizeLimit = 4 << 20
	cfg.Upload.TicketExpiresIn = time.Hour

	group := &models.Group{ID: 1, Name: "default", PolicyID: policy.ID, MaxStorage: 1 << 30}
	user := &models.User{ID: 1, Email: "u@example.com", GroupID: 1, Group: group}

	f := &uploadFixture{
		files:    newMemFileRepo(),
		chunks:   &memChunkRepo{},
		tickets:  &memTicketRepo{tickets: map[string]*models.CallbackTicket{}},
		tasks:    &memTaskRepo{tasks: map[uint64]*models.UploadTask{}},
		policies: &memPolicyRepo{policy: policy},
		quota:    &memQuota{total: 1 << 30},
		cfg:      cfg,
	}
	folders := &memFolderRepo{folders: map[string]*models.Folder{
		"/": {ID: 1, OwnerID: 1, Name: "/", PositionAbsolute: "/"},
	}}
	deps := storage.Deps{Config: cfg}

	f.svc = NewUploadService(f.files, folders, f.chunks, f.tickets, f.tasks,
		f.policies, &memUserRepo{user: user}, f.quota, noopTM{}, nil, deps, cfg)
	return f
}

func localPolicy() *models.Policy {
	return &models.Policy{ID: 1, Name: "本机存储", Type: models.PolicyTypeLocal, DirRule: "uploads/{uid}"}
}

func TestUploadLocalPolicySynchronous(t *testing.T) {
	f := newUploadFixture(t, localPolicy())
	body := []byte("hello clouddisk")

	file, task, err := f.svc.Upload(context.Background(), 1,
		&models.UploadRequest{Dir: "/", Name: "note.txt"}, bytes.NewReader(body), uint64(len(body)))
	require.NoError(t, err)
	require.NotNil(t, file)
	require.NotNil(t, task)

	assert.Equal(t, "note.txt", file.Name)
	assert.Equal(t, "/", file.Dir)
	assert.Equal(t, uint64(len(body)), file.Size)
	assert.Equal(t, models.PicInfoNotImage, file.PicInfo)

	// 对象落到了本机后端的物理路径
	stored, err := os.ReadFile(filepath.Join(f.cfg.Local.BasePath, filepath.FromSlash(file.SourceName)))
	require.NoError(t, err)
	assert.Equal(t, body, stored)

	// 暂存文件已清理，配额按实际大小占用
	entries, err := os.ReadDir(f.cfg.Local.TempPath)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, uint64(len(body)), f.quota.used)

	got, err := f.tasks.FindByID(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, got.Status)
}

func TestUploadRejectsInvalidRequests(t *testing.T) {
	f := newUploadFixture(t, localPolicy())
	body := bytes.NewReader([]byte("x"))

	_, _, err := f.svc.Upload(context.Background(), 1,
		&models.UploadRequest{Dir: "/", Name: "bad/name.txt"}, body, 1)
	assert.ErrorIs(t, err, xerr.ErrInvalidName)

	_, _, err = f.svc.Upload(context.Background(), 1,
		&models.UploadRequest{Dir: "/missing", Name: "a.txt"}, body, 1)
	assert.ErrorIs(t, err, xerr.ErrFolderNotFound)

	f.quota.used = f.quota.total
	_, _, err = f.svc.Upload(context.Background(), 1,
		&models.UploadRequest{Dir: "/", Name: "a.txt"}, body, 1)
	assert.ErrorIs(t, err, xerr.ErrQuotaExceeded)
}

func TestUploadDeclaredSizeMismatch(t *testing.T) {
	f := newUploadFixture(t, localPolicy())

	_, _, err := f.svc.Upload(context.Background(), 1,
		&models.UploadRequest{Dir: "/", Name: "a.txt"}, bytes.NewReader([]byte("abc")), 99)
	assert.ErrorIs(t, err, xerr.ErrInvalidParams)

	// 声明大小对不上时不得留下配额占用和暂存文件
	assert.Zero(t, f.quota.used)
	entries, err := os.ReadDir(f.cfg.Local.TempPath)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadPolicySizeLimit(t *testing.T) {
	policy := localPolicy()
	policy.MaxSize = 4
	f := newUploadFixture(t, policy)

	_, _, err := f.svc.Upload(context.Background(), 1,
		&models.UploadRequest{Dir: "/", Name: "a.txt"}, bytes.NewReader([]byte("abcde")), 5)
	assert.ErrorIs(t, err, xerr.ErrFileTooLarge)
}

func TestUploadChunkAndFinalize(t *testing.T) {
	f := newUploadFixture(t, localPolicy())
	parts := [][]byte{[]byte("aaaa"), []byte("bbbb"), []byte("cc")}

	var ctxToken string
	for i, part := range parts {
		resp, err := f.svc.UploadChunk(context.Background(), 1,
			&models.UploadChunkRequest{Ctx: ctxToken, Index: i, Total: len(parts)},
			bytes.NewReader(part), uint64(len(part)))
		require.NoError(t, err)
		ctxToken = resp.Ctx
		assert.Equal(t, i+1, resp.Uploaded)
	}
	// 分片到达即预占
	assert.Equal(t, uint64(10), f.quota.used)

	file, task, err := f.svc.FinalizeChunks(context.Background(), 1,
		&models.FinalizeChunksRequest{Ctx: ctxToken, Dir: "/", Name: "merged.bin"})
	require.NoError(t, err)
	require.NotNil(t, file)

	stored, err := os.ReadFile(filepath.Join(f.cfg.Local.BasePath, filepath.FromSlash(file.SourceName)))
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaabbbbcc"), stored)
	assert.Equal(t, uint64(10), file.Size)

	// 分片记录与暂存分片都被清理，配额总占用不变
	remaining, err := f.chunks.ListByCtx(1, ctxToken)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, uint64(10), f.quota.used)

	got, err := f.tasks.FindByID(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusSuccess, got.Status)
}

func TestFinalizeChunksDetectsGaps(t *testing.T) {
	f := newUploadFixture(t, localPolicy())

	resp, err := f.svc.UploadChunk(context.Background(), 1,
		&models.UploadChunkRequest{Index: 0, Total: 3}, bytes.NewReader([]byte("aa")), 2)
	require.NoError(t, err)
	_, err = f.svc.UploadChunk(context.Background(), 1,
		&models.UploadChunkRequest{Ctx: resp.Ctx, Index: 2, Total: 3}, bytes.NewReader([]byte("cc")), 2)
	require.NoError(t, err)

	_, _, err = f.svc.FinalizeChunks(context.Background(), 1,
		&models.FinalizeChunksRequest{Ctx: resp.Ctx, Dir: "/", Name: "merged.bin"})
	assert.ErrorIs(t, err, xerr.ErrChunkMissing)

	_, _, err = f.svc.FinalizeChunks(context.Background(), 1,
		&models.FinalizeChunksRequest{Ctx: "no-such-session", Dir: "/", Name: "merged.bin"})
	assert.ErrorIs(t, err, xerr.ErrChunkMissing)
}

func TestUploadChunkValidation(t *testing.T) {
	f := newUploadFixture(t, localPolicy())
	f.cfg.Upload.ChunkSizeLimit = 4

	_, err := f.svc.UploadChunk(context.Background(), 1,
		&models.UploadChunkRequest{Index: 0, Total: 1}, bytes.NewReader([]byte("abcde")), 5)
	assert.ErrorIs(t, err, xerr.ErrChunkTooLarge)

	_, err = f.svc.UploadChunk(context.Background(), 1,
		&models.UploadChunkRequest{Index: 3, Total: 3}, bytes.NewReader([]byte("a")), 1)
	assert.ErrorIs(t, err, xerr.ErrInvalidParams)

	_, err = f.svc.UploadChunk(context.Background(), 1,
		&models.UploadChunkRequest{Index: 0, Total: 0}, bytes.NewReader([]byte("a")), 1)
	assert.ErrorIs(t, err, xerr.ErrInvalidParams)
}

func TestGetCredentialRejectsServerMediatedPolicy(t *testing.T) {
	f := newUploadFixture(t, localPolicy())

	_, err := f.svc.GetCredential(context.Background(), 1,
		&models.UploadRequest{Dir: "/", Name: "a.txt"}, 1)
	assert.ErrorIs(t, err, xerr.ErrPolicyUnsupported)
}

func TestGetCredentialIssuesTicket(t *testing.T) {
	policy := &models.Policy{
		ID:         1,
		Name:       "七牛",
		Type:       models.PolicyTypeQiniu,
		Server:     "https://up-z2.qiniup.com",
		BucketName: "vault",
		AccessKey:  "test-ak",
		SecretKey:  "test-sk",
		DirRule:    "uploads/{uid}",
	}
	f := newUploadFixture(t, policy)

	cred, err := f.svc.GetCredential(context.Background(), 1,
		&models.UploadRequest{Dir: "/", Name: "photo.jpg"}, 1024)
	require.NoError(t, err)

	assert.NotEmpty(t, cred.Token)
	assert.Equal(t, policy.Server, cred.UploadURL)
	assert.NotEmpty(t, cred.TicketKey)

	// 凭证背后必须登记了一次性回调票据
	ticket, err := f.tickets.Consume(cred.TicketKey)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ticket.UserID)
	assert.Equal(t, "photo.jpg", ticket.Name)
	assert.Equal(t, cred.Key, ticket.ObjName)

	// 再次消费视为重放
	_, err = f.tickets.Consume(cred.TicketKey)
	assert.ErrorIs(t, err, xerr.ErrTicketNotFound)
}

func TestUploadNameConflictReleasesQuotaOnce(t *testing.T) {
	f := newUploadFixture(t, localPolicy())
	f.quota.used = 50

	// 目标位置已有同名文件，建档注定失败
	require.NoError(t, f.files.Create(nil, &models.File{
		UserID: 1, FolderID: 1, Dir: "/", Name: "dup.txt", SourceName: "uploads/1/dup.txt",
	}))

	body := []byte("0123456789")
	_, _, err := f.svc.Upload(context.Background(), 1,
		&models.UploadRequest{Dir: "/", Name: "dup.txt"}, bytes.NewReader(body), uint64(len(body)))
	require.Error(t, err)

	// 预占的 10 字节恰好归还一次，账目回到上传前
	assert.Equal(t, []uint64{10}, f.quota.released)
	assert.Equal(t, uint64(50), f.quota.used)
}

func TestFinalizeChunksRejectedByPolicyReturnsReservation(t *testing.T) {
	policy := localPolicy()
	policy.OptionsSerialized = models.PolicyOption{FileType: []string{"jpg"}}
	f := newUploadFixture(t, policy)

	parts := [][]byte{[]byte("aa"), []byte("bb"), []byte("cc")}
	var ctxToken string
	for i, part := range parts {
		resp, err := f.svc.UploadChunk(context.Background(), 1,
			&models.UploadChunkRequest{Ctx: ctxToken, Index: i, Total: len(parts)},
			bytes.NewReader(part), uint64(len(part)))
		require.NoError(t, err)
		ctxToken = resp.Ctx
	}
	require.Equal(t, uint64(6), f.quota.used)

	_, _, err := f.svc.FinalizeChunks(context.Background(), 1,
		&models.FinalizeChunksRequest{Ctx: ctxToken, Dir: "/", Name: "evil.exe"})
	assert.ErrorIs(t, err, xerr.ErrExtensionNotAllowed)

	// 终局拒绝后整段预占归还，分片记录与暂存文件一并清掉
	assert.Zero(t, f.quota.used)
	assert.Equal(t, []uint64{6}, f.quota.released)
	remaining, err := f.chunks.ListByCtx(1, ctxToken)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	entries, err := os.ReadDir(f.cfg.Local.TempPath)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadChunkRetransmitSettlesDelta(t *testing.T) {
	f := newUploadFixture(t, localPolicy())

	resp, err := f.svc.UploadChunk(context.Background(), 1,
		&models.UploadChunkRequest{Index: 0, Total: 2}, bytes.NewReader([]byte("aaaa")), 4)
	require.NoError(t, err)
	ctxToken := resp.Ctx
	_, err = f.svc.UploadChunk(context.Background(), 1,
		&models.UploadChunkRequest{Ctx: ctxToken, Index: 1, Total: 2}, bytes.NewReader([]byte("bb")), 2)
	require.NoError(t, err)
	require.Equal(t, uint64(6), f.quota.used)

	// 同序号重传：替换内容而不是新增记录，配额只按大小差额结算
	resp, err = f.svc.UploadChunk(context.Background(), 1,
		&models.UploadChunkRequest{Ctx: ctxToken, Index: 0, Total: 2}, bytes.NewReader([]byte("zzzz")), 4)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Uploaded)
	assert.Equal(t, uint64(6), f.quota.used)

	resp, err = f.svc.UploadChunk(context.Background(), 1,
		&models.UploadChunkRequest{Ctx: ctxToken, Index: 1, Total: 2}, bytes.NewReader([]byte("bbbb")), 4)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Uploaded)
	assert.Equal(t, uint64(8), f.quota.used)

	// 会话依旧收得拢，合并结果取最后一次上传的内容
	file, _, err := f.svc.FinalizeChunks(context.Background(), 1,
		&models.FinalizeChunksRequest{Ctx: ctxToken, Dir: "/", Name: "merged.bin"})
	require.NoError(t, err)
	stored, err := os.ReadFile(filepath.Join(f.cfg.Local.BasePath, filepath.FromSlash(file.SourceName)))
	require.NoError(t, err)
	assert.Equal(t, []byte("zzzzbbbb"), stored)
	assert.Equal(t, uint64(8), f.quota.used)
}

func TestExecuteTaskCompensatesOnlyOnLastAttempt(t *testing.T) {
	f := newUploadFixture(t, localPolicy())
	f.quota.used = 100

	task := &models.UploadTask{
		Name:   "gone.txt",
		Type:   models.TaskTypeSingle,
		Status: models.TaskStatusTodo,
		UserID: 1,
	}
	require.NoError(t, task.EncodeContent(&models.UploadTaskContent{
		PolicyID: 1,
		Dir:      "/",
		Name:     "gone.txt",
		ObjName:  "uploads/1/gone.txt",
		TempPath: filepath.Join(f.cfg.Local.TempPath, "missing"),
		Size:     100,
	}))
	require.NoError(t, f.tasks.Create(task))

	// 非最后一次：只报错，不补偿，留给重投
	err := f.svc.ExecuteTask(context.Background(), task, false)
	require.Error(t, err)
	assert.Equal(t, uint64(100), f.quota.used)
	assert.Empty(t, f.quota.released)
	got, _ := f.tasks.FindByID(task.ID)
	assert.Equal(t, models.TaskStatusTodo, got.Status)

	// 最后一次：归还预占并落错误状态
	err = f.svc.ExecuteTask(context.Background(), task, true)
	require.Error(t, err)
	assert.Zero(t, f.quota.used)
	assert.Equal(t, []uint64{100}, f.quota.released)
	got, _ = f.tasks.FindByID(task.ID)
	assert.Equal(t, models.TaskStatusError, got.Status)
	assert.NotEmpty(t, got.ErrMsg)
}
