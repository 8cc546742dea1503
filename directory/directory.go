// Package directory serves following lists and follow mutations from a
// relational user directory through GORM. A *Directory is both a
// followcache.QuerySource and a followcache.MutationSink.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Alp4ka/followcache"
)

// ErrUserNotFound is returned by SubmitFollow when the followee does not exist.
var ErrUserNotFound = errors.New("user not found")

// User is a row of the users table. Login is unique.
type User struct {
	ID    uint    `gorm:"primaryKey"`
	Login string  `gorm:"size:255;not null;uniqueIndex"`
	Name  *string `gorm:"size:255"`
}

// Follow records that FollowerLogin follows FolloweeLogin. A pair is stored once.
type Follow struct {
	ID            uint      `gorm:"primaryKey"`
	FollowerLogin string    `gorm:"size:255;not null;uniqueIndex:idx_follows_pair"`
	FolloweeLogin string    `gorm:"size:255;not null;uniqueIndex:idx_follows_pair"`
	CreatedAt     time.Time `gorm:"not null"`
}

// Entry converts the row into a cache entry.
func (u User) Entry() followcache.Entry {
	return followcache.Entry{
		ID:    strconv.FormatUint(uint64(u.ID), 10),
		Name:  u.Name,
		Login: u.Login,
	}
}

type Directory struct {
	db     *gorm.DB
	viewer string
	sort   Orderings
	logger *slog.Logger
}

// New creates a Directory acting on behalf of viewer. Following lists are
// ordered by follow arrival unless WithSort or WithSubstitutedSort says otherwise.
func New(db *gorm.DB, viewer string) *Directory {
	return &Directory{
		db:     db,
		viewer: viewer,
		sort:   Orderings{{Column: "follows.id", Direction: DirectionASC}},
		logger: slog.Default(),
	}
}

// WithSubstitutedSort resets previous orderings and applies the provided ones.
func (d *Directory) WithSubstitutedSort(orderBy ...OrderBy) *Directory {
	if d == nil {
		d = new(Directory)
	}

	d.sort = nil

	return d.WithSort(orderBy...)
}

// WithSort appends sort orderings. A column that is already sorted on is
// moved to the end with its new direction.
func (d *Directory) WithSort(orderBy ...OrderBy) *Directory {
	if d == nil {
		d = new(Directory)
	}

	for _, o := range orderBy {
		d.sort = lo.Reject(d.sort, func(processed OrderBy, _ int) bool {
			return processed.Column == o.Column
		})
		d.sort = append(d.sort, o)
	}

	return d
}

// WithLogger sets the logger. A nil logger is ignored.
func (d *Directory) WithLogger(logger *slog.Logger) *Directory {
	if d == nil {
		d = new(Directory)
	}

	if logger != nil {
		d.logger = logger
	}

	return d
}

// GetSort returns orderings that will be applied to the following list.
func (d *Directory) GetSort() Orderings {
	if d == nil {
		return nil
	}

	return d.sort
}

// Viewer returns the login the directory acts for.
func (d *Directory) Viewer() string {
	return d.viewer
}

// Migrate creates or updates the users and follows tables.
func (d *Directory) Migrate(ctx context.Context) error {
	if err := d.db.WithContext(ctx).AutoMigrate(&User{}, &Follow{}); err != nil {
		return fmt.Errorf("failed to migrate directory: %w", err)
	}

	return nil
}

// SeedUser inserts a user, or updates the name of an existing one.
func (d *Directory) SeedUser(ctx context.Context, login string, name *string) (*User, error) {
	user := &User{Login: login, Name: name}

	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "login"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).
		Create(user).Error
	if err != nil {
		return nil, fmt.Errorf("failed to seed user '%s': %w", login, err)
	}

	return user, nil
}

// FetchPage - implements followcache.QuerySource. An empty login means the
// viewer. A login with no user row yields a nil page and a nil error.
func (d *Directory) FetchPage(ctx context.Context, login string, cursor followcache.Cursor) (*followcache.Page, error) {
	login = lo.Ternary(login == "", d.viewer, login)
	if login == "" {
		return nil, fmt.Errorf("cannot fetch following list: no login and no viewer")
	}

	if err := d.sort.validate(); err != nil {
		return nil, fmt.Errorf("cannot fetch following list: %w", err)
	}

	db := d.db.WithContext(ctx)

	_, err := d.findUser(db, login)
	if errors.Is(err, ErrUserNotFound) {
		d.log().Debug("following list of unknown user requested", "login", login)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var total int64
	err = db.Model(&Follow{}).Where("follower_login = ?", login).Count(&total).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count follows of '%s': %w", login, err)
	}

	var users []User
	query := db.Model(&User{}).
		Select("users.id, users.login, users.name").
		Joins("JOIN follows ON follows.followee_login = users.login").
		Where("follows.follower_login = ?", login)
	err = d.sort.Apply(query).
		Offset(cursor.Offset()).
		Limit(cursor.Limit()).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read following list of '%s' at %s: %w", login, cursor, err)
	}

	return &followcache.Page{
		TotalCount: int(total),
		Entries:    lo.Map(users, func(u User, _ int) followcache.Entry { return u.Entry() }),
	}, nil
}

// SubmitFollow - implements followcache.MutationSink. Makes the viewer follow
// login and returns the followee. Following the same user twice is not an error.
func (d *Directory) SubmitFollow(ctx context.Context, login string) (*followcache.Entry, error) {
	if d.viewer == "" {
		return nil, fmt.Errorf("cannot follow '%s': no viewer", login)
	}

	db := d.db.WithContext(ctx)

	followee, err := d.findUser(db, login)
	if err != nil {
		return nil, err
	}

	follow := &Follow{FollowerLogin: d.viewer, FolloweeLogin: followee.Login}
	err = db.Clauses(clause.OnConflict{DoNothing: true}).Create(follow).Error
	if err != nil {
		return nil, fmt.Errorf("failed to follow '%s': %w", login, err)
	}

	d.log().Debug("follow stored", "follower", d.viewer, "followee", followee.Login)

	entry := followee.Entry()

	return &entry, nil
}

func (d *Directory) log() *slog.Logger {
	if d.logger == nil {
		return slog.Default()
	}

	return d.logger
}

func (d *Directory) findUser(db *gorm.DB, login string) (*User, error) {
	var user User

	err := db.Where("login = ?", login).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("'%s': %w", login, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user '%s': %w", login, err)
	}

	return &user, nil
}

var (
	_ followcache.QuerySource  = (*Directory)(nil)
	_ followcache.MutationSink = (*Directory)(nil)
)
