package reply

import (
	"context"
	"net/textproto"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/touchbase/followup/internal/store"
)

type fakeRecords struct {
	threads  map[string]*store.Message
	contacts map[uuid.UUID]*store.Contact
	existing map[string]bool

	replies              []*store.EmailReply
	createdContacts      []*store.Contact
	repliedMessages      []uuid.UUID
	deactivatedSequences []uuid.UUID
	repliedContacts      []uuid.UUID
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{
		threads:  map[string]*store.Message{},
		contacts: map[uuid.UUID]*store.Contact{},
		existing: map[string]bool{},
	}
}

func (f *fakeRecords) LatestOutboundByThread(_ context.Context, threadID string) (*store.Message, error) {
	return f.threads[threadID], nil
}

func (f *fakeRecords) GetContact(_ context.Context, id uuid.UUID) (*store.Contact, error) {
	return f.contacts[id], nil
}

func (f *fakeRecords) CreateContact(_ context.Context, c *store.Contact) error {
	f.createdContacts = append(f.createdContacts, c)
	f.contacts[c.ID] = c
	return nil
}

func (f *fakeRecords) ReplyExists(_ context.Context, replyMessageID string) (bool, error) {
	return f.existing[replyMessageID], nil
}

func (f *fakeRecords) CreateReply(_ context.Context, r *store.EmailReply) error {
	f.replies = append(f.replies, r)
	f.existing[r.ReplyMessageID] = true
	return nil
}

func (f *fakeRecords) MarkMessageHasReply(_ context.Context, id uuid.UUID) error {
	f.repliedMessages = append(f.repliedMessages, id)
	return nil
}

func (f *fakeRecords) DeactivateSequence(_ context.Context, id uuid.UUID) error {
	f.deactivatedSequences = append(f.deactivatedSequences, id)
	return nil
}

func (f *fakeRecords) MarkContactReplied(_ context.Context, id uuid.UUID) error {
	f.repliedContacts = append(f.repliedContacts, id)
	return nil
}

type fakeSource struct {
	messages map[string]*InboundMessage
}

func (f *fakeSource) ListRecent(context.Context) ([]Ref, error) {
	var refs []Ref
	for id := range f.messages {
		refs = append(refs, Ref{ID: id})
	}
	return refs, nil
}

func (f *fakeSource) Get(_ context.Context, id string) (*InboundMessage, error) {
	return f.messages[id], nil
}

func trackedThread(records *fakeRecords, email string) (*store.Message, *store.Contact, uuid.UUID) {
	seqID := uuid.New()
	contact := &store.Contact{ID: uuid.New(), Email: email, Active: true}
	outbound := &store.Message{
		ID:         uuid.New(),
		ContactID:  contact.ID,
		SequenceID: &seqID,
		ThreadID:   "thread-1",
		Direction:  store.DirectionOutbound,
		Status:     store.StatusSent,
	}
	records.threads["thread-1"] = outbound
	records.contacts[contact.ID] = contact
	return outbound, contact, seqID
}

func inbound(id, from, subject, body string) *InboundMessage {
	return &InboundMessage{
		ID:           id,
		ThreadID:     "thread-1",
		Header:       textproto.MIMEHeader{},
		From:         from,
		Subject:      subject,
		Body:         body,
		InternalDate: time.Now(),
	}
}

func TestCorrelate_HumanReplyEndsSequence(t *testing.T) {
	records := newFakeRecords()
	outbound, contact, seqID := trackedThread(records, "jane@co.com")
	c := NewCorrelator(records, nil, nil)

	outcome, err := c.Correlate(context.Background(),
		inbound("msg-1", "jane@co.com", "Re: Application", "Thanks, let's set up a call.\n\nOn Mon, Alex wrote:\n> checking in"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)

	require.Len(t, records.replies, 1)
	rec := records.replies[0]
	assert.False(t, rec.IsAutomated)
	assert.False(t, rec.Processed, "new replies wait for a human to read them")
	assert.Equal(t, outbound.ID, rec.OriginalMessageID)
	assert.Equal(t, "Thanks, let's set up a call.", rec.ReplyContent)
	assert.Contains(t, rec.ReplyHistory, "> checking in")

	assert.Equal(t, []uuid.UUID{outbound.ID}, records.repliedMessages)
	assert.Equal(t, []uuid.UUID{seqID}, records.deactivatedSequences)
	assert.Equal(t, []uuid.UUID{contact.ID}, records.repliedContacts)
}

func TestCorrelate_AutomatedReplyKeepsSequenceRunning(t *testing.T) {
	records := newFakeRecords()
	outbound, _, _ := trackedThread(records, "jane@co.com")
	c := NewCorrelator(records, nil, nil)

	outcome, err := c.Correlate(context.Background(),
		inbound("msg-2", "jane@co.com", "Out of Office: Re: Application", "I am away until Monday."))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)

	require.Len(t, records.replies, 1)
	assert.True(t, records.replies[0].IsAutomated)
	assert.Equal(t, []uuid.UUID{outbound.ID}, records.repliedMessages)
	assert.Empty(t, records.deactivatedSequences, "automated replies must not end the sequence")
	assert.Empty(t, records.repliedContacts)
}

func TestCorrelate_SpoofedSenderIgnored(t *testing.T) {
	records := newFakeRecords()
	trackedThread(records, "jane@co.com")
	c := NewCorrelator(records, nil, nil)

	outcome, err := c.Correlate(context.Background(),
		inbound("msg-3", "attacker@evil.com", "Re: Application", "click here"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, records.replies)
	assert.Empty(t, records.repliedMessages, "hasReply must stay false on a spoofed sender")
}

func TestCorrelate_DuplicateProviderMessage(t *testing.T) {
	records := newFakeRecords()
	trackedThread(records, "jane@co.com")
	c := NewCorrelator(records, nil, nil)

	first, err := c.Correlate(context.Background(),
		inbound("msg-4", "jane@co.com", "Re: Application", "yes"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, first)

	second, err := c.Correlate(context.Background(),
		inbound("msg-4", "jane@co.com", "Re: Application", "yes"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second)
	assert.Len(t, records.replies, 1, "exactly one row per provider message id")
}

func TestCorrelate_UnknownThreadIgnored(t *testing.T) {
	records := newFakeRecords()
	c := NewCorrelator(records, nil, nil)

	outcome, err := c.Correlate(context.Background(),
		inbound("msg-5", "someone@co.com", "hello", "hi"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Empty(t, records.replies)
}

func TestCorrelate_SenderCaseInsensitive(t *testing.T) {
	records := newFakeRecords()
	trackedThread(records, "jane@co.com")
	c := NewCorrelator(records, nil, nil)

	outcome, err := c.Correlate(context.Background(),
		inbound("msg-6", "Jane@Co.com", "Re: Application", "sure"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)
}

func TestCorrelate_EmptyParsedBodyFallsBackToRaw(t *testing.T) {
	records := newFakeRecords()
	trackedThread(records, "jane@co.com")
	c := NewCorrelator(records, nil, nil)

	raw := "> everything\n> is quoted"
	outcome, err := c.Correlate(context.Background(),
		inbound("msg-7", "jane@co.com", "Re: Application", raw))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)
	require.Len(t, records.replies, 1)
	assert.Equal(t, raw, records.replies[0].ReplyContent)
}

func TestCorrelate_VanishedContactIsRecreated(t *testing.T) {
	records := newFakeRecords()
	outbound, contact, seqID := trackedThread(records, "jane@co.com")
	delete(records.contacts, contact.ID)
	c := NewCorrelator(records, nil, nil)

	outcome, err := c.Correlate(context.Background(),
		inbound("msg-10", "Jane@Co.com", "Re: Application", "still interested"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)

	require.Len(t, records.createdContacts, 1)
	created := records.createdContacts[0]
	assert.Equal(t, outbound.ContactID, created.ID, "rebuilt under the original id")
	assert.Equal(t, "jane@co.com", created.Email)
	assert.True(t, created.AutoCreated)
	assert.True(t, created.Active)

	require.Len(t, records.replies, 1)
	assert.Equal(t, created.ID, records.replies[0].ContactID)
	assert.Equal(t, []uuid.UUID{seqID}, records.deactivatedSequences)
	assert.Equal(t, []uuid.UUID{created.ID}, records.repliedContacts)
}

func TestProcess_FetchesByRef(t *testing.T) {
	records := newFakeRecords()
	trackedThread(records, "jane@co.com")
	src := &fakeSource{messages: map[string]*InboundMessage{
		"msg-11": inbound("msg-11", "jane@co.com", "Re: Application", "works for me"),
	}}
	c := NewCorrelator(records, src, nil)

	outcome, err := c.Process(context.Background(), Ref{ID: "msg-11"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, outcome)
	require.Len(t, records.replies, 1)
	assert.Equal(t, "msg-11", records.replies[0].ReplyMessageID)
}

func TestPoller_ProcessesBatch(t *testing.T) {
	records := newFakeRecords()
	trackedThread(records, "jane@co.com")
	src := &fakeSource{messages: map[string]*InboundMessage{
		"msg-8": inbound("msg-8", "jane@co.com", "Re: Application", "sounds good"),
		"msg-9": inbound("msg-9", "stranger@other.com", "Re: Application", "wrong sender"),
	}}
	c := NewCorrelator(records, src, nil)
	p := NewPoller(src, c, time.Minute)

	p.PollOnce(context.Background())

	require.Len(t, records.replies, 1)
	assert.Equal(t, "msg-8", records.replies[0].ReplyMessageID)
}
