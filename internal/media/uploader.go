// Package media uploads surgeon and procedure photos to object storage and
// records where they landed.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"scrubnotes/internal/apperr"
	"scrubnotes/internal/blob"
	"scrubnotes/internal/metrics"
	"scrubnotes/internal/records"
)

const (
	// DefaultMaxBytes caps one upload.
	DefaultMaxBytes int64 = 10 << 20

	surgeonPrefix   = "surgeon-photos"
	procedurePrefix = "procedure-photos"
	defaultExt      = "jpg"
	metaSuffix      = ".meta"
)

// File is one uploaded file as reported by the client.
type File struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// Uploader writes photos to the blob store and then persists their URLs.
// There is no rollback: if the metadata write fails the stored object stays
// behind unreferenced and the metadata error is returned.
type Uploader struct {
	blobs    blob.Store
	loader   *records.Loader
	gateway  *records.Gateway
	users    records.UserResolver
	log      *zap.Logger
	metrics  metrics.Recorder
	maxBytes int64
	now      func() time.Time

	stampMu   sync.Mutex
	lastStamp int64
}

// Config carries the Uploader's collaborators.
type Config struct {
	Blobs    blob.Store
	Loader   *records.Loader
	Gateway  *records.Gateway
	Users    records.UserResolver
	Log      *zap.Logger
	Metrics  metrics.Recorder
	MaxBytes int64
	Now      func() time.Time
}

// NewUploader builds an Uploader from cfg, filling defaults.
func NewUploader(cfg Config) *Uploader {
	u := &Uploader{
		blobs:    cfg.Blobs,
		loader:   cfg.Loader,
		gateway:  cfg.Gateway,
		users:    cfg.Users,
		log:      cfg.Log,
		metrics:  cfg.Metrics,
		maxBytes: cfg.MaxBytes,
		now:      cfg.Now,
	}
	if u.log == nil {
		u.log = zap.NewNop()
	}
	if u.metrics == nil {
		u.metrics = metrics.Nop{}
	}
	if u.maxBytes <= 0 {
		u.maxBytes = DefaultMaxBytes
	}
	if u.now == nil {
		u.now = time.Now
	}
	return u
}

// image is a validated upload held in memory.
type image struct {
	data        []byte
	contentType string
}

// readImage checks the reported content type before reading the body, then
// confirms the bytes are an image too.
func (u *Uploader) readImage(op string, f File) (image, error) {
	ct := baseType(f.ContentType)
	if !strings.HasPrefix(ct, "image/") {
		return image{}, apperr.Validationf(op, "unsupported content type %q: only images can be uploaded", ct)
	}
	if f.Body == nil {
		return image{}, apperr.Validation(op, "file is empty")
	}
	data, err := io.ReadAll(io.LimitReader(f.Body, u.maxBytes+1))
	if err != nil {
		return image{}, apperr.Validationf(op, "read upload: %v", err)
	}
	if len(data) == 0 {
		return image{}, apperr.Validation(op, "file is empty")
	}
	if int64(len(data)) > u.maxBytes {
		return image{}, apperr.Validationf(op, "file exceeds %d bytes", u.maxBytes)
	}
	if sniffed := baseType(mimetype.Detect(data).String()); !strings.HasPrefix(sniffed, "image/") {
		return image{}, apperr.Validationf(op, "file reported as %s but its content is %s", ct, sniffed)
	}
	return image{data: data, contentType: ct}, nil
}

func baseType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// SurgeonPhotoKey is deterministic per surgeon and extension, so re-uploads
// replace the previous photo.
func SurgeonPhotoKey(surgeonID, fileName string) string {
	return surgeonPrefix + "/" + surgeonID + "." + extension(fileName)
}

func extension(fileName string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(strings.TrimSpace(fileName)), "."))
	if ext == "" || len(ext) > 8 {
		return defaultExt
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return defaultExt
		}
	}
	return ext
}

// ProcedurePhotoKey places a photo under its owner and procedure with a
// millisecond stamp in front of the sanitised file name.
func ProcedurePhotoKey(userID, procedureID string, stampMillis int64, fileName string) string {
	return procedurePrefix + "/" + userID + "/" + procedureID + "/" + strconv.FormatInt(stampMillis, 10) + "_" + SafeName(fileName)
}

// SafeName keeps letters, digits, dots, dashes and underscores and turns
// everything else into an underscore. Path separators are dropped and dot
// runs collapsed so the name cannot leave its key prefix.
func SafeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("/", "", "\\", "").Replace(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	name = strings.TrimLeft(name, ".")
	if strings.HasSuffix(strings.ToLower(name), metaSuffix) {
		name = name[:len(name)-len(metaSuffix)] + "_meta"
	}
	if name == "" {
		return "photo." + defaultExt
	}
	return name
}

// nextStamp returns the current Unix milliseconds, bumped so that two uploads
// in the same process never share a stamp.
func (u *Uploader) nextStamp() int64 {
	u.stampMu.Lock()
	defer u.stampMu.Unlock()
	ms := u.now().UnixMilli()
	if ms <= u.lastStamp {
		ms = u.lastStamp + 1
	}
	u.lastStamp = ms
	return ms
}

// UploadSurgeonPhoto stores the photo under the surgeon's key, replacing any
// previous one, and saves its public URL on the surgeon.
func (u *Uploader) UploadSurgeonPhoto(ctx context.Context, surgeonID string, f File) (url string, err error) {
	const op = "media.upload_surgeon_photo"
	defer metrics.Track(ctx, u.metrics, op, time.Now(), &err)
	img, err := u.readImage(op, f)
	if err != nil {
		return "", err
	}
	uid, err := u.users.CurrentUserID(ctx)
	if err != nil {
		return "", err
	}
	if _, err := u.loader.LoadSurgeon(ctx, uid, surgeonID); err != nil {
		return "", err
	}
	key := SurgeonPhotoKey(surgeonID, f.Name)
	if _, err := u.blobs.Put(ctx, key, bytes.NewReader(img.data), blob.PutOptions{ContentType: img.contentType, Overwrite: true}); err != nil {
		u.log.Error("surgeon photo upload failed", zap.String("key", key), zap.Error(err))
		return "", apperr.Remote(op, err)
	}
	url = u.blobs.PublicURL(key)
	if err := u.gateway.UpdateSurgeonField(ctx, surgeonID, records.FieldPhotoURL, url); err != nil {
		u.log.Warn("surgeon photo stored but not recorded", zap.String("key", key), zap.Error(err))
		return "", err
	}
	u.log.Info("surgeon photo uploaded", zap.String("surgeon_id", surgeonID), zap.String("key", key), zap.Int("bytes", len(img.data)))
	return url, nil
}

// UploadProcedurePhoto stores the photo under a fresh key and appends a
// photo row to the procedure.
func (u *Uploader) UploadProcedurePhoto(ctx context.Context, procedureID string, f File) (photo records.Photo, err error) {
	const op = "media.upload_procedure_photo"
	defer metrics.Track(ctx, u.metrics, op, time.Now(), &err)
	img, err := u.readImage(op, f)
	if err != nil {
		return records.Photo{}, err
	}
	uid, err := u.users.CurrentUserID(ctx)
	if err != nil {
		return records.Photo{}, err
	}
	if _, err := u.loader.LoadProcedure(ctx, uid, procedureID); err != nil {
		return records.Photo{}, err
	}
	key := ProcedurePhotoKey(uid, procedureID, u.nextStamp(), f.Name)
	if _, err := u.blobs.Put(ctx, key, bytes.NewReader(img.data), blob.PutOptions{ContentType: img.contentType}); err != nil {
		u.log.Error("procedure photo upload failed", zap.String("key", key), zap.Error(err))
		return records.Photo{}, apperr.Remote(op, fmt.Errorf("store %s: %w", key, err))
	}
	photo, err = u.gateway.InsertPhoto(ctx, procedureID, u.blobs.PublicURL(key))
	if err != nil {
		u.log.Warn("procedure photo stored but not recorded", zap.String("key", key), zap.Error(err))
		return records.Photo{}, err
	}
	u.log.Info("procedure photo uploaded", zap.String("procedure_id", procedureID), zap.String("key", key), zap.Int("bytes", len(img.data)))
	return photo, nil
}
