package resultcache

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type payload struct {
	Species string
	Photo   []byte
}

func TestKeyCanonicalizesSpecies(t *testing.T) {
	assert.Equal(t, "42:vulpes vulpes", Key(42, "  Vulpes   VULPES "))
	assert.Equal(t, "-100:passer domesticus", Key(-100, "Passer\tdomesticus"))
	assert.NotEqual(t, Key(1, "Lutra lutra"), Key(2, "Lutra lutra"))
}

func TestTokenHashesLongNames(t *testing.T) {
	short := "Vulpes vulpes"
	assert.Equal(t, "vulpes vulpes", Token(short))

	long := "Tachyglossus aculeatus setosus var. tasmaniensis sensu lato forma montana"
	tok := Token(long)
	assert.LessOrEqual(t, len(tok), MaxTokenLen)
	assert.True(t, strings.HasPrefix(tok, "#"))
	assert.Equal(t, tok, Token(tok), "token resolves to itself")
	assert.Equal(t, tok, Token("  TACHYGLOSSUS aculeatus setosus var. tasmaniensis sensu lato forma   montana"))
	assert.NotEqual(t, tok, Token(long+" x"))
	assert.Equal(t, Key(5, long), Key(5, tok))
}

func TestSetGet(t *testing.T) {
	c := New[payload](time.Minute, 0)
	defer c.Close()

	c.Set(Key(1, "Vulpes vulpes"), payload{Species: "Vulpes vulpes", Photo: []byte{1}})

	got, ok := c.Get(Key(1, "vulpes VULPES"))
	assert.True(t, ok)
	assert.Equal(t, "Vulpes vulpes", got.Species)

	_, ok = c.Get(Key(2, "Vulpes vulpes"))
	assert.False(t, ok, "other chats must not see the entry")
}

func TestExpiredEntryEvictedOnRead(t *testing.T) {
	c := New[string](20*time.Millisecond, 0)
	defer c.Close()

	c.Set("1:a", "x")
	assert.Equal(t, 1, c.ItemCount())

	time.Sleep(40 * time.Millisecond)
	_, ok := c.Get("1:a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.ItemCount())
}

func TestJanitorRemovesExpired(t *testing.T) {
	c := New[string](10*time.Millisecond, 5*time.Millisecond)
	defer c.Close()

	c.Set("1:a", "x")
	c.SetWithTTL("1:b", "y", time.Hour)
	assert.Eventually(t, func() bool { return c.ItemCount() == 1 }, time.Second, 5*time.Millisecond)
}

func TestClearChat(t *testing.T) {
	c := New[bool](time.Minute, 0)
	defer c.Close()

	c.Set(Key(1, "a"), true)
	c.Set(Key(1, "b"), true)
	c.Set(Key(11, "a"), true)
	c.Set(Key(-1, "a"), true)

	assert.Equal(t, 2, c.ClearChat(1))
	assert.Equal(t, 2, c.ItemCount())
	_, ok := c.Get(Key(11, "a"))
	assert.True(t, ok, "prefix must not match other chat IDs")
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New[int](time.Minute, time.Millisecond)
	c.Close()
	c.Close()
	c.Set("k", 1)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}
