package rewards

import "sync"

// postLocks сериализует работу с одним постом внутри процесса:
// плановый опрос, ручная проверка и досчёт не пересекаются на одном посте.
// Межпроцессную корректность обеспечивает условный UPDATE в Grant.
type postLocks struct {
	mu    sync.Mutex
	locks map[string]*postLock
}

type postLock struct {
	mu   sync.Mutex
	refs int
}

func newPostLocks() *postLocks {
	return &postLocks{locks: make(map[string]*postLock)}
}

// Lock захватывает мьютекс поста и возвращает функцию освобождения.
func (l *postLocks) Lock(postID string) func() {
	l.mu.Lock()
	pl, ok := l.locks[postID]
	if !ok {
		pl = &postLock{}
		l.locks[postID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, postID)
		}
		l.mu.Unlock()
	}
}

func (l *postLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
