package domain

import "errors"

var (
	// ErrIdentityIncomplete возвращается, если кортеж идентичности заполнен не полностью.
	ErrIdentityIncomplete = errors.New("кортеж идентичности заполнен не полностью")
	// ErrTaskNotFound возвращается, если задачи с таким кортежем нет.
	ErrTaskNotFound = errors.New("задача ленты не найдена")
	// ErrSnoozeUntilRequired возвращается при snooze без срока.
	ErrSnoozeUntilRequired = errors.New("для snooze требуется срок until")
	// ErrSnoozeUntilPast возвращается, если срок snooze уже прошёл.
	ErrSnoozeUntilPast = errors.New("срок snooze уже в прошлом")
	// ErrNotResolved возвращается при reopen задачи, которая не в статусе resolved.
	ErrNotResolved = errors.New("переоткрыть можно только закрытую задачу")
	// ErrResolvedTask возвращается при snooze закрытой задачи: выйти из resolved
	// можно только явным reopen.
	ErrResolvedTask = errors.New("закрытую задачу нельзя отложить")
)
