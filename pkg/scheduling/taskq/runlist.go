package taskq

// runList is an intrusive doubly-linked list of entries. All methods require
// the owning queue's mutex.
type runList struct {
	head, tail *Entry
	n          int
}

func (l *runList) len() int { return l.n }

func (l *runList) pushBack(e *Entry) {
	e.prev, e.next = l.tail, nil
	if l.tail != nil {
		l.tail.next = e
	} else {
		l.head = e
	}
	l.tail = e
	e.linked = true
	l.n++
}

func (l *runList) pushFront(e *Entry) {
	e.prev, e.next = nil, l.head
	if l.head != nil {
		l.head.prev = e
	} else {
		l.tail = e
	}
	l.head = e
	e.linked = true
	l.n++
}

// remove unlinks e and reports whether it was on the list.
func (l *runList) remove(e *Entry) bool {
	if !e.linked {
		return false
	}
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nil, nil
	e.linked = false
	l.n--
	return true
}

func (l *runList) popFront() *Entry {
	e := l.head
	if e == nil {
		return nil
	}
	l.remove(e)
	return e
}
