package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"booktrak/pkg/domain"
)

const migrateLockID int64 = 61822014

// GormStore implements Store using GORM. Production runs on Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the Postgres DB and runs auto-migrations under an
// advisory lock so concurrent replicas do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := openDB(postgres.Open(dsn))
	if err != nil {
		return nil, err
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := migrate(tx); err != nil {
			return err
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'profile_models'
					AND constraint_name = 'profile_models_user_id_fkey'
				) THEN
					ALTER TABLE profile_models
					ADD CONSTRAINT profile_models_user_id_fkey
					FOREIGN KEY (user_id) REFERENCES user_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'book_models'
					AND constraint_name = 'book_models_times_issued_check'
				) THEN
					ALTER TABLE book_models
					ADD CONSTRAINT book_models_times_issued_check CHECK (times_issued >= 0);
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure constraints: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// NewGormStoreWithDialector opens a store on any GORM dialector and migrates
// it without advisory locking. Used with SQLite in tests.
func NewGormStoreWithDialector(dialector gorm.Dialector) (*GormStore, error) {
	db, err := openDB(dialector)
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func openDB(dialector gorm.Dialector) (*gorm.DB, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return db, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&UserModel{}, &ProfileModel{}, &BookModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction runs fn inside a database transaction.
func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// CreateUser inserts a user and fills in its ID.
func (s *GormStore) CreateUser(ctx context.Context, u *domain.User) error {
	model := userToModel(*u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return translateErr(err)
	}
	u.ID = model.ID
	u.CreatedAt = model.CreatedAt
	return nil
}

// HasUsername checks if username exists.
func (s *GormStore) HasUsername(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, &UserModel{}, "username = ?", username)
}

// HasUserEmail checks if email exists (case-insensitive).
func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, &UserModel{}, "lower(email) = lower(?)", email)
}

func (s *GormStore) exists(ctx context.Context, model any, query string, args ...any) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where(query, args...).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id int64) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetProfile returns the profile owned by userID.
func (s *GormStore) GetProfile(ctx context.Context, userID int64) (domain.UserProfile, bool, error) {
	return s.getProfile(s.db.WithContext(ctx), userID)
}

// GetProfileForUpdate returns the profile with a row lock (no-op on SQLite).
func (s *GormStore) GetProfileForUpdate(ctx context.Context, userID int64) (domain.UserProfile, bool, error) {
	return s.getProfile(s.db.WithContext(ctx).Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}), userID)
}

func (s *GormStore) getProfile(db *gorm.DB, userID int64) (domain.UserProfile, bool, error) {
	var model ProfileModel
	if err := db.Where("user_id = ?", userID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.UserProfile{}, false, nil
		}
		return domain.UserProfile{}, false, err
	}
	return profileFromModel(model), true, nil
}

// SaveProfile inserts a new profile (ID == 0) or overwrites an existing one.
func (s *GormStore) SaveProfile(ctx context.Context, p *domain.UserProfile) error {
	model := profileToModel(*p)
	model.UpdatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Save(&model).Error; err != nil {
		return translateErr(err)
	}
	p.ID = model.ID
	p.UpdatedAt = model.UpdatedAt
	return nil
}

// CreateBook inserts a book and fills in ID and timestamps.
func (s *GormStore) CreateBook(ctx context.Context, b *domain.Book) error {
	now := time.Now().UTC()
	model := bookToModel(*b)
	model.ID = 0
	model.TimesIssued = 0
	model.CreatedAt = now
	model.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return translateErr(err)
	}
	*b = bookFromModel(model)
	return nil
}

// UpdateBook overwrites the editable columns. times_issued is left alone.
func (s *GormStore) UpdateBook(ctx context.Context, b domain.Book) error {
	res := s.db.WithContext(ctx).Model(&BookModel{}).
		Where("id = ?", b.ID).
		Updates(map[string]any{
			"title":           b.Title,
			"author":          b.Author,
			"isbn":            b.ISBN,
			"price":           b.Price,
			"cover_image_url": b.CoverImageURL,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return translateErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(ctx context.Context, id int64) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books ordered by id.
func (s *GormStore) ListBooks(ctx context.Context) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// DeleteBook removes a book.
func (s *GormStore) DeleteBook(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&BookModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// HasISBN checks whether another book (id != excludeID) uses isbn.
func (s *GormStore) HasISBN(ctx context.Context, isbn string, excludeID int64) (bool, error) {
	return s.exists(ctx, &BookModel{}, "isbn = ? AND id <> ?", isbn, excludeID)
}

// IncrementTimesIssued bumps the counter in SQL so concurrent issues of the
// same book never lose an increment.
func (s *GormStore) IncrementTimesIssued(ctx context.Context, id int64) (domain.Book, error) {
	db := s.db.WithContext(ctx)
	res := db.Model(&BookModel{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"times_issued": gorm.Expr("times_issued + ?", 1),
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return domain.Book{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Book{}, ErrNotFound
	}
	var model BookModel
	if err := db.First(&model, "id = ?", id).Error; err != nil {
		return domain.Book{}, err
	}
	return bookFromModel(model), nil
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		IsActive:     m.IsActive,
		CreatedAt:    m.CreatedAt,
	}
}

func profileToModel(p domain.UserProfile) ProfileModel {
	saved := p.SavedBooks
	if saved == nil {
		saved = []int64{}
	}
	cart := p.CartItems
	if cart == nil {
		cart = []int64{}
	}
	return ProfileModel{
		ID:         p.ID,
		UserID:     p.UserID,
		UserType:   string(p.UserType),
		SavedBooks: saved,
		CartItems:  cart,
		UpdatedAt:  p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.UserProfile {
	userType := domain.UserType(m.UserType)
	if userType == "" {
		userType = domain.UserTypeCustomer
	}
	saved := []int64(m.SavedBooks)
	if saved == nil {
		saved = []int64{}
	}
	cart := []int64(m.CartItems)
	if cart == nil {
		cart = []int64{}
	}
	return domain.UserProfile{
		ID:         m.ID,
		UserID:     m.UserID,
		UserType:   userType,
		SavedBooks: saved,
		CartItems:  cart,
		UpdatedAt:  m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		ISBN:          b.ISBN,
		Price:         b.Price,
		CoverImageURL: b.CoverImageURL,
		TimesIssued:   b.TimesIssued,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:            m.ID,
		Title:         m.Title,
		Author:        m.Author,
		ISBN:          m.ISBN,
		Price:         m.Price,
		CoverImageURL: m.CoverImageURL,
		TimesIssued:   m.TimesIssued,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}
