// Package service is the single core API behind both the browser and the
// device endpoints. Every operation takes the identifier explicitly; how it
// was obtained (session cookie or query parameter) is the transport's concern.
package service

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"qrdrop/internal/domain"
	"qrdrop/internal/longpoll"
	"qrdrop/internal/naming"
	"qrdrop/internal/storage"
	"qrdrop/internal/store"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// sniffLen is how much of each upload is buffered for MIME detection.
const sniffLen = 3072

// maxReserveAttempts bounds how often ingestion re-resolves a name after
// losing a race for it.
const maxReserveAttempts = 16

var errContention = errors.New("service: name contention")

type Service struct {
	store    *store.Store
	disk     *storage.Disk
	poll     longpoll.Config
	resolver *naming.Resolver
	now      func() time.Time
}

// Upload is one file of an ingestion batch.
type Upload struct {
	Name string
	Body io.Reader
}

func New(st *store.Store, disk *storage.Disk, poll longpoll.Config) *Service {
	s := &Service{store: st, disk: disk, poll: poll, now: time.Now}
	s.resolver = naming.NewResolver(naming.AnyOf(disk.Exists, s.nameTaken))
	return s
}

func (s *Service) nameTaken(ctx context.Context, owner, name string) (bool, error) {
	return s.store.Files().NameTaken(ctx, owner, name)
}

// ResetIdentity issues a fresh identifier in the OFFLINE state.
func (s *Service) ResetIdentity(ctx context.Context) (string, error) {
	id, err := s.store.Identities().Reset(ctx)
	if err != nil {
		return "", fmt.Errorf("reset identity: %w", err)
	}
	return id, nil
}

func (s *Service) State(ctx context.Context, id string) (domain.PairingState, error) {
	ident, err := s.identity(ctx, id)
	if err != nil {
		return domain.StateOffline, err
	}
	return ident.State, nil
}

// DeclareIntent records what the device wants to do. The stored state is the
// counterpart's: a device that downloads leaves the browser awaiting upload.
func (s *Service) DeclareIntent(ctx context.Context, id string, intent domain.Intent) error {
	if _, err := domain.ParseIntent(string(intent)); err != nil {
		return err
	}
	if !validID(id) {
		return domain.ErrIdentityNotFound
	}
	state := intent.CounterpartState()
	applied, err := s.store.Identities().SetState(ctx, id, state)
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	if !applied {
		return domain.ErrIdentityNotFound
	}
	slog.Debug("intent declared", "identity", id, "intent", intent, "state", state.String())
	return nil
}

// AwaitPairing blocks until the identifier leaves OFFLINE or the wait is
// exhausted, in which case DirectiveRetry is returned.
func (s *Service) AwaitPairing(ctx context.Context, id string) (domain.Directive, error) {
	directive, ok, err := longpoll.Wait(ctx, s.poll, func(ctx context.Context) (domain.Directive, bool, error) {
		ident, err := s.identity(ctx, id)
		if err != nil {
			return "", false, err
		}
		d, ready := domain.DirectiveFor(ident.State)
		return d, ready, nil
	})
	if err != nil {
		return "", err
	}
	if !ok {
		return domain.DirectiveRetry, nil
	}
	return directive, nil
}

// AwaitFiles blocks until at least one undelivered file exists for id, claims
// every such file and returns them. Exhaustion yields an empty slice.
func (s *Service) AwaitFiles(ctx context.Context, id string) ([]domain.StagedFile, error) {
	if _, err := s.identity(ctx, id); err != nil {
		return nil, err
	}
	files, ok, err := longpoll.Wait(ctx, s.poll, func(ctx context.Context) ([]domain.StagedFile, bool, error) {
		claimed, err := s.store.Files().ClaimUndelivered(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("claim undelivered: %w", err)
		}
		return claimed, len(claimed) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return []domain.StagedFile{}, nil
	}
	return files, nil
}

// Ingest stages uploads in order under owner. It stops at the first failure;
// files staged before it stay staged and are returned alongside the error.
func (s *Service) Ingest(ctx context.Context, owner string, uploads []Upload) ([]domain.StagedFile, error) {
	if len(uploads) == 0 {
		return nil, domain.ErrEmptyUpload
	}
	if _, err := s.identity(ctx, owner); err != nil {
		return nil, err
	}
	staged := make([]domain.StagedFile, 0, len(uploads))
	for _, up := range uploads {
		file, err := s.ingestOne(ctx, owner, up)
		if err != nil {
			return staged, fmt.Errorf("ingest %q: %w", up.Name, err)
		}
		slog.Debug("file staged", "identity", owner, "name", file.DisplayName, "size", file.Size, "mime", file.MimeType)
		staged = append(staged, file)
	}
	return staged, nil
}

func (s *Service) ingestOne(ctx context.Context, owner string, up Upload) (domain.StagedFile, error) {
	proposed := naming.Sanitize(up.Name)
	name, f, err := s.reserve(ctx, owner, proposed)
	if err != nil {
		return domain.StagedFile{}, err
	}

	size, mimeType, err := copySniffing(f, up.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.disk.Remove(owner, name)
		return domain.StagedFile{}, fmt.Errorf("write: %w", err)
	}

	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		created := s.now().UTC()
		row := domain.StagedFile{
			OwnerID:     owner,
			DisplayName: name,
			ContentKey:  ContentKey(owner, name, created),
			Size:        size,
			MimeType:    mimeType,
			CreatedAt:   created,
		}
		err := s.store.Files().Create(ctx, &row)
		if err == nil {
			return row, nil
		}
		if !errors.Is(err, store.ErrDuplicate) {
			_ = s.disk.Remove(owner, name)
			return domain.StagedFile{}, fmt.Errorf("register: %w", err)
		}

		// The registry holds name without a disk file behind it. Move the
		// bytes to the next free name and try again.
		next, err := s.resolver.Resolve(ctx, owner, proposed)
		if err != nil {
			_ = s.disk.Remove(owner, name)
			return domain.StagedFile{}, err
		}
		if err := s.disk.Move(owner, name, next); err != nil {
			if errors.Is(err, storage.ErrExists) {
				continue
			}
			_ = s.disk.Remove(owner, name)
			return domain.StagedFile{}, err
		}
		name = next
	}
	_ = s.disk.Remove(owner, name)
	return domain.StagedFile{}, fmt.Errorf("register %q: %w", proposed, errContention)
}

// reserve resolves a free name and claims it on disk. A writer that loses
// the O_EXCL race resolves again.
func (s *Service) reserve(ctx context.Context, owner, proposed string) (string, *os.File, error) {
	for attempt := 0; attempt < maxReserveAttempts; attempt++ {
		name, err := s.resolver.Resolve(ctx, owner, proposed)
		if err != nil {
			return "", nil, err
		}
		f, err := s.disk.Create(owner, name)
		if err == nil {
			return name, f, nil
		}
		if !errors.Is(err, storage.ErrExists) {
			return "", nil, err
		}
	}
	return "", nil, fmt.Errorf("reserve %q: %w", proposed, errContention)
}

func copySniffing(dst io.Writer, src io.Reader) (int64, string, error) {
	br := bufio.NewReaderSize(src, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return 0, "", err
	}
	mimeType := mimetype.Detect(head).String()
	n, err := io.Copy(dst, br)
	if err != nil {
		return n, "", err
	}
	return n, mimeType, nil
}

// Retrieve opens the bytes of one staged file and marks it delivered. Asking
// again for a delivered file serves it again.
func (s *Service) Retrieve(ctx context.Context, owner, contentKey string) (*os.File, domain.StagedFile, error) {
	if !validID(owner) {
		return nil, domain.StagedFile{}, domain.ErrFileNotFound
	}
	file, err := s.store.Files().Get(ctx, owner, contentKey)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, domain.StagedFile{}, domain.ErrFileNotFound
		}
		return nil, domain.StagedFile{}, fmt.Errorf("lookup file: %w", err)
	}
	f, err := s.disk.Open(owner, file.DisplayName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.StagedFile{}, domain.ErrFileNotFound
		}
		return nil, domain.StagedFile{}, fmt.Errorf("open file: %w", err)
	}
	if err := s.store.Files().MarkDelivered(ctx, owner, contentKey); err != nil {
		_ = f.Close()
		return nil, domain.StagedFile{}, fmt.Errorf("mark delivered: %w", err)
	}
	file.Delivered = true
	return f, *file, nil
}

// ContentKey derives the opaque per-file key from owner, name and creation
// time.
func ContentKey(owner, name string, created time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", owner, name, created.UnixNano())))
	return hex.EncodeToString(sum[:])
}

func (s *Service) identity(ctx context.Context, id string) (*domain.Identity, error) {
	if !validID(id) {
		return nil, domain.ErrIdentityNotFound
	}
	ident, err := s.store.Identities().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, domain.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("lookup identity: %w", err)
	}
	return ident, nil
}

// validID keeps anything that is not a UUID away from the database and the
// disk namespace.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
