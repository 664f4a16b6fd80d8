package service

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/vladislavrupets/universe/internal/database"
	"github.com/vladislavrupets/universe/internal/models"
	"github.com/vladislavrupets/universe/internal/snowflake"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func testSnowflake() *snowflake.Generator {
	sf, _ := snowflake.NewGenerator(1)
	return sf
}

// ---------------------------------------------------------------------------
// Mock dispatcher
// ---------------------------------------------------------------------------

type dispatchedEvent struct {
	ChannelID    snowflake.ID
	UserID       snowflake.ID
	ExceptUserID snowflake.ID
	Event        string
	Data         any
}

type subscription struct {
	UserID    snowflake.ID
	ChannelID snowflake.ID
}

type mockDispatcher struct {
	mu           sync.Mutex
	events       []dispatchedEvent
	subscribed   []subscription
	unsubscribed []subscription
}

func (m *mockDispatcher) DispatchToChannel(channelID snowflake.ID, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, dispatchedEvent{ChannelID: channelID, Event: event, Data: data})
}

func (m *mockDispatcher) DispatchToChannelExcept(channelID, exceptUserID snowflake.ID, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, dispatchedEvent{ChannelID: channelID, ExceptUserID: exceptUserID, Event: event, Data: data})
}

func (m *mockDispatcher) DispatchToUser(userID snowflake.ID, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, dispatchedEvent{UserID: userID, Event: event, Data: data})
}

func (m *mockDispatcher) SubscribeToChannel(userID, channelID snowflake.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, subscription{UserID: userID, ChannelID: channelID})
}

func (m *mockDispatcher) UnsubscribeFromChannel(userID, channelID snowflake.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribed = append(m.unsubscribed, subscription{UserID: userID, ChannelID: channelID})
}

func (m *mockDispatcher) eventNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.events))
	for i, e := range m.events {
		names[i] = e.Event
	}
	return names
}

// ---------------------------------------------------------------------------
// Mock blob store
// ---------------------------------------------------------------------------

type mockBlobStore struct {
	mu       sync.Mutex
	uploaded []string
	deleted  []string
	DeleteFn func(ctx context.Context, key string) error
}

func (m *mockBlobStore) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaded = append(m.uploaded, key)
	return nil
}

func (m *mockBlobStore) GetURL(key string) string {
	return "http://blobs.test/" + key
}

func (m *mockBlobStore) Delete(ctx context.Context, key string) error {
	if m.DeleteFn != nil {
		return m.DeleteFn(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, key)
	return nil
}

// ---------------------------------------------------------------------------
// Mock repositories
// ---------------------------------------------------------------------------

type mockUserRepo struct {
	CreateFn        func(ctx context.Context, user *models.User) error
	GetByIDFn       func(ctx context.Context, id snowflake.ID) (*models.User, error)
	GetByUsernameFn func(ctx context.Context, username string) (*models.User, error)
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id snowflake.ID) (*models.User, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return &models.User{ID: id, Username: "user", DisplayName: "User"}, nil
}

func (m *mockUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.GetByUsernameFn != nil {
		return m.GetByUsernameFn(ctx, username)
	}
	return nil, nil
}

type mockChannelRepo struct {
	CreateFn             func(ctx context.Context, channel *models.Channel, memberIDs []snowflake.ID) error
	GetByIDFn            func(ctx context.Context, id snowflake.ID) (*models.Channel, error)
	GetWithUsersFn       func(ctx context.Context, id snowflake.ID) (*models.ChannelWithUsers, error)
	RenameFn             func(ctx context.Context, id snowflake.ID, name string) error
	IsMemberFn           func(ctx context.Context, channelID, userID snowflake.ID) (bool, error)
	AddMembersFn         func(ctx context.Context, channelID snowflake.ID, userIDs []snowflake.ID) error
	RemoveMemberFn       func(ctx context.Context, channelID, userID snowflake.ID) error
	GetMembersFn         func(ctx context.Context, channelID snowflake.ID) ([]models.UserSummary, error)
	GetMemberIDsFn       func(ctx context.Context, channelID snowflake.ID) ([]snowflake.ID, error)
	GetUserChannelIDsFn  func(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error)
	GetOrCreateDMFn      func(ctx context.Context, userA, userB, newID snowflake.ID) (*models.Channel, bool, error)
	GetOrCreateNotesFn   func(ctx context.Context, ownerID snowflake.ID, newID func() snowflake.ID) (*models.Channel, error)
	GetDMsWithUsersFn    func(ctx context.Context, userID snowflake.ID) ([]models.DMWithUser, error)
	DeleteWithMessagesFn func(ctx context.Context, id snowflake.ID, blobs database.BlobDeleter) error
}

func (m *mockChannelRepo) Create(ctx context.Context, channel *models.Channel, memberIDs []snowflake.ID) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, channel, memberIDs)
	}
	return nil
}

func (m *mockChannelRepo) GetByID(ctx context.Context, id snowflake.ID) (*models.Channel, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return &models.Channel{ID: id, Name: "channel", Kind: models.ChannelKindText}, nil
}

func (m *mockChannelRepo) GetWithUsers(ctx context.Context, id snowflake.ID) (*models.ChannelWithUsers, error) {
	if m.GetWithUsersFn != nil {
		return m.GetWithUsersFn(ctx, id)
	}
	return &models.ChannelWithUsers{
		Channel: models.Channel{ID: id, Name: "channel", Kind: models.ChannelKindText},
	}, nil
}

func (m *mockChannelRepo) Rename(ctx context.Context, id snowflake.ID, name string) error {
	if m.RenameFn != nil {
		return m.RenameFn(ctx, id, name)
	}
	return nil
}

func (m *mockChannelRepo) IsMember(ctx context.Context, channelID, userID snowflake.ID) (bool, error) {
	if m.IsMemberFn != nil {
		return m.IsMemberFn(ctx, channelID, userID)
	}
	return true, nil
}

func (m *mockChannelRepo) AddMembers(ctx context.Context, channelID snowflake.ID, userIDs []snowflake.ID) error {
	if m.AddMembersFn != nil {
		return m.AddMembersFn(ctx, channelID, userIDs)
	}
	return nil
}

func (m *mockChannelRepo) RemoveMember(ctx context.Context, channelID, userID snowflake.ID) error {
	if m.RemoveMemberFn != nil {
		return m.RemoveMemberFn(ctx, channelID, userID)
	}
	return nil
}

func (m *mockChannelRepo) GetMembers(ctx context.Context, channelID snowflake.ID) ([]models.UserSummary, error) {
	if m.GetMembersFn != nil {
		return m.GetMembersFn(ctx, channelID)
	}
	return nil, nil
}

func (m *mockChannelRepo) GetMemberIDs(ctx context.Context, channelID snowflake.ID) ([]snowflake.ID, error) {
	if m.GetMemberIDsFn != nil {
		return m.GetMemberIDsFn(ctx, channelID)
	}
	return nil, nil
}

func (m *mockChannelRepo) GetUserChannelIDs(ctx context.Context, userID snowflake.ID) ([]snowflake.ID, error) {
	if m.GetUserChannelIDsFn != nil {
		return m.GetUserChannelIDsFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockChannelRepo) GetOrCreateDM(ctx context.Context, userA, userB, newID snowflake.ID) (*models.Channel, bool, error) {
	if m.GetOrCreateDMFn != nil {
		return m.GetOrCreateDMFn(ctx, userA, userB, newID)
	}
	return &models.Channel{ID: newID, Kind: models.ChannelKindDM}, true, nil
}

func (m *mockChannelRepo) GetOrCreateNotes(ctx context.Context, ownerID snowflake.ID, newID func() snowflake.ID) (*models.Channel, error) {
	if m.GetOrCreateNotesFn != nil {
		return m.GetOrCreateNotesFn(ctx, ownerID, newID)
	}
	return &models.Channel{ID: newID(), Name: "Notes", Kind: models.ChannelKindNotes, OwnerID: &ownerID}, nil
}

func (m *mockChannelRepo) GetDMsWithUsers(ctx context.Context, userID snowflake.ID) ([]models.DMWithUser, error) {
	if m.GetDMsWithUsersFn != nil {
		return m.GetDMsWithUsersFn(ctx, userID)
	}
	return nil, nil
}

func (m *mockChannelRepo) DeleteWithMessages(ctx context.Context, id snowflake.ID, blobs database.BlobDeleter) error {
	if m.DeleteWithMessagesFn != nil {
		return m.DeleteWithMessagesFn(ctx, id, blobs)
	}
	return nil
}

type mockGroupRepo struct {
	CreateFn        func(ctx context.Context, group *models.ChannelGroup) error
	GetAllFn        func(ctx context.Context) ([]models.ChannelGroup, error)
	GetByNameFn     func(ctx context.Context, name string) (*models.ChannelGroup, error)
	AppendChannelFn func(ctx context.Context, groupName string, channelID snowflake.ID) error
	ReplaceOrderFn  func(ctx context.Context, groups []models.ChannelGroup) error
}

func (m *mockGroupRepo) Create(ctx context.Context, group *models.ChannelGroup) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, group)
	}
	return nil
}

func (m *mockGroupRepo) GetAll(ctx context.Context) ([]models.ChannelGroup, error) {
	if m.GetAllFn != nil {
		return m.GetAllFn(ctx)
	}
	return nil, nil
}

func (m *mockGroupRepo) GetByName(ctx context.Context, name string) (*models.ChannelGroup, error) {
	if m.GetByNameFn != nil {
		return m.GetByNameFn(ctx, name)
	}
	return nil, nil
}

func (m *mockGroupRepo) AppendChannel(ctx context.Context, groupName string, channelID snowflake.ID) error {
	if m.AppendChannelFn != nil {
		return m.AppendChannelFn(ctx, groupName, channelID)
	}
	return nil
}

func (m *mockGroupRepo) ReplaceOrder(ctx context.Context, groups []models.ChannelGroup) error {
	if m.ReplaceOrderFn != nil {
		return m.ReplaceOrderFn(ctx, groups)
	}
	return nil
}

type mockMessageRepo struct {
	CreateFn                func(ctx context.Context, msg *models.Message) error
	GetByIDFn               func(ctx context.Context, id string) (*models.Message, error)
	GetPageFn               func(ctx context.Context, channelID snowflake.ID, limit, page int) ([]models.Message, bool, error)
	UpdateTextFn            func(ctx context.Context, id string, text json.RawMessage) error
	DeleteWithAttachmentsFn func(ctx context.Context, id string, blobs database.BlobDeleter) error
}

func (m *mockMessageRepo) Create(ctx context.Context, msg *models.Message) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, msg)
	}
	return nil
}

func (m *mockMessageRepo) GetByID(ctx context.Context, id string) (*models.Message, error) {
	if m.GetByIDFn != nil {
		return m.GetByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockMessageRepo) GetPage(ctx context.Context, channelID snowflake.ID, limit, page int) ([]models.Message, bool, error) {
	if m.GetPageFn != nil {
		return m.GetPageFn(ctx, channelID, limit, page)
	}
	return nil, false, nil
}

func (m *mockMessageRepo) UpdateText(ctx context.Context, id string, text json.RawMessage) error {
	if m.UpdateTextFn != nil {
		return m.UpdateTextFn(ctx, id, text)
	}
	return nil
}

func (m *mockMessageRepo) DeleteWithAttachments(ctx context.Context, id string, blobs database.BlobDeleter) error {
	if m.DeleteWithAttachmentsFn != nil {
		return m.DeleteWithAttachmentsFn(ctx, id, blobs)
	}
	return nil
}

type mockAttachmentRepo struct {
	mu       sync.Mutex
	records  map[string]models.Attachment // url → record
	FindFn   func(ctx context.Context, urls []string) ([]models.Attachment, error)
	CreateFn func(ctx context.Context, attachments []models.Attachment) error
}

func newMockAttachmentRepo() *mockAttachmentRepo {
	return &mockAttachmentRepo{records: make(map[string]models.Attachment)}
}

func (m *mockAttachmentRepo) FindByURLs(ctx context.Context, urls []string) ([]models.Attachment, error) {
	if m.FindFn != nil {
		return m.FindFn(ctx, urls)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []models.Attachment
	for _, url := range urls {
		if a, ok := m.records[url]; ok {
			found = append(found, a)
		}
	}
	return found, nil
}

func (m *mockAttachmentRepo) CreateMany(ctx context.Context, attachments []models.Attachment) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, attachments)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range attachments {
		m.records[a.URL] = a
	}
	return nil
}
