package twofa

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileTwoFARepository implements TwoFARepository using file-based storage.
// The mutex serializes every mutation, which also makes backup-code
// consumption atomic.
type FileTwoFARepository struct {
	dataDir string
	records map[uuid.UUID]SecurityRecord
	mutex   sync.RWMutex
}

// NewFileTwoFARepository creates a new file-based repository
func NewFileTwoFARepository(dataDir string) (*FileTwoFARepository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	repo := &FileTwoFARepository{
		dataDir: dataDir,
		records: make(map[uuid.UUID]SecurityRecord),
	}

	if err := repo.load(); err != nil {
		return nil, fmt.Errorf("failed to load data: %w", err)
	}

	return repo, nil
}

func (r *FileTwoFARepository) GetByUserID(ctx context.Context, userID uuid.UUID) (SecurityRecord, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	record, exists := r.records[userID]
	if !exists {
		return SecurityRecord{}, ErrRecordNotFound
	}
	return record, nil
}

func (r *FileTwoFARepository) SetPendingSecret(ctx context.Context, params SetPendingSecretParams) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	prev, exists := r.records[params.UserID]
	record := prev
	if !exists {
		record = SecurityRecord{
			UserID:    params.UserID,
			CreatedAt: time.Now().UTC(),
		}
	}
	record.TotpSecret = params.Secret
	record.SecretValid = true
	record.UpdatedAt = time.Now().UTC()
	r.records[params.UserID] = record

	if err := r.save(); err != nil {
		// Rollback
		if exists {
			r.records[params.UserID] = prev
		} else {
			delete(r.records, params.UserID)
		}
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (r *FileTwoFARepository) Enable(ctx context.Context, params EnableParams) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	record, exists := r.records[params.UserID]
	if !exists {
		return ErrRecordNotFound
	}

	record.TotpEnabled = true
	record.BackupCodes = slices.Clone(params.BackupCodes)
	record.EnabledAt = params.EnabledAt
	record.EnabledAtValid = true
	record.UpdatedAt = time.Now().UTC()
	r.records[params.UserID] = record

	if err := r.save(); err != nil {
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (r *FileTwoFARepository) Disable(ctx context.Context, userID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	record, exists := r.records[userID]
	if !exists {
		return ErrRecordNotFound
	}

	record.TotpEnabled = false
	record.TotpSecret = ""
	record.SecretValid = false
	record.BackupCodes = nil
	record.EnabledAt = time.Time{}
	record.EnabledAtValid = false
	record.UpdatedAt = time.Now().UTC()
	r.records[userID] = record

	if err := r.save(); err != nil {
		return fmt.Errorf("failed to save: %w", err)
	}
	return nil
}

func (r *FileTwoFARepository) ConsumeBackupCode(ctx context.Context, userID uuid.UUID, code string) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	record, exists := r.records[userID]
	if !exists || !record.TotpEnabled {
		return false, nil
	}

	idx := slices.Index(record.BackupCodes, code)
	if idx < 0 {
		return false, nil
	}

	record.BackupCodes = slices.Delete(slices.Clone(record.BackupCodes), idx, idx+1)
	record.UpdatedAt = time.Now().UTC()
	r.records[userID] = record

	if err := r.save(); err != nil {
		return false, fmt.Errorf("failed to save: %w", err)
	}
	return true, nil
}

// load reads records from file
func (r *FileTwoFARepository) load() error {
	filePath := filepath.Join(r.dataDir, "user_security.json")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if len(data) == 0 {
		return nil
	}

	var records []SecurityRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}

	r.records = make(map[uuid.UUID]SecurityRecord)
	for _, record := range records {
		r.records[record.UserID] = record
	}

	return nil
}

// save writes records to file atomically
func (r *FileTwoFARepository) save() error {
	records := make([]SecurityRecord, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	tempFile := filepath.Join(r.dataDir, "user_security.json.tmp")
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	finalFile := filepath.Join(r.dataDir, "user_security.json")
	if err := os.Rename(tempFile, finalFile); err != nil {
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
