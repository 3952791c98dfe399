package api

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// sessionJar is a cookie jar that can be emptied while requests are in
// flight. The http.Client keeps pointing at the same jar; Reset swaps the
// store behind it.
type sessionJar struct {
	mu  sync.RWMutex
	jar *cookiejar.Jar
}

func newSessionJar() *sessionJar {
	j := &sessionJar{}
	j.Reset()
	return j
}

func (j *sessionJar) current() *cookiejar.Jar {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.jar
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.current().SetCookies(u, cookies)
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	return j.current().Cookies(u)
}

// Reset drops every stored cookie.
func (j *sessionJar) Reset() {
	// cookiejar.New only fails on a bad PublicSuffixList, and none is set.
	fresh, _ := cookiejar.New(nil)
	j.mu.Lock()
	j.jar = fresh
	j.mu.Unlock()
}
