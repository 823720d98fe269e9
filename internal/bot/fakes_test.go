package bot

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tphakala/wildlife-id-bot/internal/chat"
	"github.com/tphakala/wildlife-id-bot/internal/classifier"
	"github.com/tphakala/wildlife-id-bot/internal/datastore"
	"github.com/tphakala/wildlife-id-bot/internal/ebird"
	"github.com/tphakala/wildlife-id-bot/internal/events"
	"github.com/tphakala/wildlife-id-bot/internal/gbif"
	"github.com/tphakala/wildlife-id-bot/internal/geocode"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
	"github.com/tphakala/wildlife-id-bot/internal/mediagroup"
	"github.com/tphakala/wildlife-id-bot/internal/quota"
	"github.com/tphakala/wildlife-id-bot/internal/render"
	"github.com/tphakala/wildlife-id-bot/internal/requests"
	"github.com/tphakala/wildlife-id-bot/internal/resultcache"
)

const (
	privateUser  int64 = 7
	groupChat    int64 = -100
	groupThread        = 5
	testUsername       = "wildbot"
)

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for x := range 64 {
		for y := range 48 {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 5), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type sentMessage struct {
	id      int
	dst     chat.Destination
	text    string
	replyTo int
	kb      chat.Keyboard
}

type sentDocument struct {
	dst     chat.Destination
	name    string
	data    []byte
	caption string
}

type fakeTransport struct {
	mu        sync.Mutex
	nextID    int
	photo     []byte
	failFiles map[string]bool
	docErr    error
	photoErr  error
	failText  string

	texts     []sentMessage
	photos    []chat.OutgoingPhoto
	docs      []sentDocument
	deleted   []int
	answers   []string
	downloads int
}

func newFakeTransport(photo []byte) *fakeTransport {
	return &fakeTransport{nextID: 1000, photo: photo, failFiles: map[string]bool{}}
}

func (f *fakeTransport) Self() string { return testUsername }

func (f *fakeTransport) SendText(ctx context.Context, dst chat.Destination, text string, replyTo int) (int, error) {
	return f.SendTextWithKeyboard(ctx, dst, text, replyTo, nil)
}

func (f *fakeTransport) SendTextWithKeyboard(_ context.Context, dst chat.Destination, text string, replyTo int, kb chat.Keyboard) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failText != "" && strings.Contains(text, f.failText) {
		return 0, errors.New("Bad Request: message is too long")
	}
	f.nextID++
	f.texts = append(f.texts, sentMessage{id: f.nextID, dst: dst, text: text, replyTo: replyTo, kb: kb})
	return f.nextID, nil
}

func (f *fakeTransport) SendPhoto(_ context.Context, _ chat.Destination, photo chat.OutgoingPhoto) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.photoErr != nil {
		return 0, f.photoErr
	}
	f.nextID++
	f.photos = append(f.photos, photo)
	return f.nextID, nil
}

func (f *fakeTransport) SendDocument(_ context.Context, dst chat.Destination, name string, data []byte, caption string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docErr != nil {
		return 0, f.docErr
	}
	f.nextID++
	f.docs = append(f.docs, sentDocument{dst: dst, name: name, data: data, caption: caption})
	return f.nextID, nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, _ chat.Destination, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeTransport) DownloadFile(_ context.Context, fileID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	if f.failFiles[fileID] {
		return nil, errors.New("file is gone")
	}
	return f.photo, nil
}

func (f *fakeTransport) Updates(context.Context) (<-chan chat.Update, error) {
	return nil, errors.New("not supported")
}

func (f *fakeTransport) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.texts...)
}

func (f *fakeTransport) last() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return sentMessage{}
	}
	return f.texts[len(f.texts)-1]
}

// containing returns the sent messages whose text includes s.
func (f *fakeTransport) containing(s string) []sentMessage {
	var out []sentMessage
	for _, m := range f.sent() {
		if strings.Contains(m.text, s) {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) lastAnswer() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		return ""
	}
	return f.answers[len(f.answers)-1]
}

type fakeClassifier struct {
	mu    sync.Mutex
	fn    func(n int) (classifier.Result, error)
	calls int
	hints []classifier.Hints
}

func (f *fakeClassifier) Classify(_ context.Context, _ []byte, _ string, hints classifier.Hints) (classifier.Result, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.hints = append(f.hints, hints)
	fn := f.fn
	f.mu.Unlock()
	return fn(n)
}

func (f *fakeClassifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeClassifier) lastHints() classifier.Hints {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hints[len(f.hints)-1]
}

func tiger() (classifier.Result, error) {
	return classifier.Result{
		Identified:     true,
		ScientificName: "Panthera tigris",
		CommonName:     "tiger",
		Rank:           "species",
		Confidence:     0.93,
		Taxonomy:       classifier.Taxonomy{Class: "Mammalia", Family: "Felidae", Genus: "Panthera"},
	}, nil
}

type fakeGeocoder struct{}

func (fakeGeocoder) Resolve(_ context.Context, text string) (geocode.Place, bool, error) {
	if strings.EqualFold(text, "Singapore") {
		return geocode.Place{Label: "Singapore", Latitude: 1.29, Longitude: 103.85, Country: "Singapore"}, true, nil
	}
	return geocode.Place{}, false, nil
}

func (fakeGeocoder) Reverse(context.Context, float64, float64) (geocode.Place, bool, error) {
	return geocode.Place{Label: "Somewhere"}, true, nil
}

type fakeSpecies struct {
	match       gbif.Match
	children    []gbif.Taxon
	occurrences int
}

func (f *fakeSpecies) Match(context.Context, string) (gbif.Match, bool, error) {
	return f.match, f.match.Found(), nil
}

func (f *fakeSpecies) Children(context.Context, int, int) ([]gbif.Taxon, error) {
	return f.children, nil
}

func (f *fakeSpecies) CheckOccurrence(context.Context, int, float64, float64) (int, error) {
	return f.occurrences, nil
}

type fakeTaxonomy struct {
	entries map[string]ebird.TaxonomyEntry
}

func (f fakeTaxonomy) LookupScientific(_ context.Context, name string) (ebird.TaxonomyEntry, bool, error) {
	e, ok := f.entries[name]
	return e, ok, nil
}

type fakeRenderer struct {
	err error
}

func (f fakeRenderer) Render(_ context.Context, _ string, card render.Card) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("composite:" + card.ScientificName), nil
}

type fakeHistory struct {
	mu    sync.Mutex
	saved []datastore.Identification
	top   []datastore.SpeciesCount
}

func (f *fakeHistory) SaveIdentification(_ context.Context, id *datastore.Identification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *id)
	return nil
}

func (f *fakeHistory) CountIdentifications(_ context.Context, chatID int64, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.saved {
		if chatID == 0 || s.ChatID == chatID {
			n++
		}
	}
	return n, nil
}

func (f *fakeHistory) TopSpecies(context.Context, int64, time.Time, int) ([]datastore.SpeciesCount, error) {
	return f.top, nil
}

func (f *fakeHistory) DeleteChatHistory(_ context.Context, chatID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []datastore.Identification
	for _, s := range f.saved {
		if s.ChatID != chatID {
			kept = append(kept, s)
		}
	}
	n := int64(len(f.saved) - len(kept))
	f.saved = kept
	return n, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (f *fakePublisher) Publish(e events.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return true
}

func (f *fakePublisher) all() []events.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.Event(nil), f.events...)
}

type fakeMetrics struct {
	nopMetrics
	panics atomic.Int32
}

func (f *fakeMetrics) Panic() { f.panics.Add(1) }

type testEnv struct {
	bot       *Bot
	transport *fakeTransport
	cls       *fakeClassifier
	quota     *quota.Tracker
	history   *fakeHistory
	events    *fakePublisher
	metrics   *fakeMetrics
}

func newTestEnv(t *testing.T, mutate ...func(*Config, *Deps)) *testEnv {
	t.Helper()
	discard := logger.NewDiscardLogger()

	store := quota.NewMemoryStore(0)
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		transport: newFakeTransport(testJPEG(t)),
		cls:       &fakeClassifier{fn: func(int) (classifier.Result, error) { return tiger() }},
		quota: quota.NewTracker(store, quota.Config{
			GroupLimit:   10,
			PrivateLimit: 10,
			ResetWeekday: time.Monday,
		}, quota.WithLogger(discard)),
		history: &fakeHistory{},
		events:  &fakePublisher{},
		metrics: &fakeMetrics{},
	}

	cfg := Config{GroupOfferButton: true, Version: "test"}
	deps := Deps{
		Transport:  env.transport,
		Requests:   requests.NewManager(requests.Config{}, requests.WithLogger(discard)),
		Quota:      env.quota,
		Results:    resultcache.New[CachedResult](5*time.Minute, 0),
		FullRes:    resultcache.New[bool](time.Hour, 0),
		Offers:     resultcache.New[Offer](time.Hour, 0),
		Groups:     mediagroup.New(100*time.Millisecond, 500*time.Millisecond),
		Classifier: env.cls,
		Geocoder:   fakeGeocoder{},
		History:    env.history,
		Events:     env.events,
		Metrics:    env.metrics,
		Logger:     discard,
	}
	for _, m := range mutate {
		m(&cfg, &deps)
	}

	b, err := New(cfg, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		b.Results.Close()
		b.FullRes.Close()
		b.Offers.Close()
	})
	env.bot = b
	return env
}

func privateMessage(id int) *chat.Message {
	return &chat.Message{
		ID:       id,
		ChatID:   privateUser,
		ChatType: chat.ChatPrivate,
		From:     chat.User{ID: privateUser, FirstName: "Ann"},
	}
}

func privatePhoto(id int) chat.Update {
	m := privateMessage(id)
	m.Photo = &chat.Photo{FileID: "file-" + strconv.Itoa(id)}
	return chat.Update{Message: m}
}

func privateText(id int, text string) chat.Update {
	m := privateMessage(id)
	m.Text = text
	return chat.Update{Message: m}
}

func groupMessage(id int, from int64) *chat.Message {
	return &chat.Message{
		ID:       id,
		ChatID:   groupChat,
		ChatType: chat.ChatSupergroup,
		ThreadID: groupThread,
		From:     chat.User{ID: from, FirstName: "Bo"},
	}
}

func privateKey() quota.Key {
	return quota.KeyFor(chat.ChatPrivate, privateUser, privateUser)
}
