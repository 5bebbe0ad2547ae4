package service

import "sync"

// userLocks 以用户为键串行化写路径：同一用户同一时刻至多一个写者
// 跨用户互不阻塞；读路径不经过该锁
type userLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[uint]*sync.Mutex)}
}

// acquire 锁住指定用户并返回解锁函数，调用方负责 defer 释放
func (l *userLocks) acquire(userID uint) func() {
	l.mu.Lock()
	lock, ok := l.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[userID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
