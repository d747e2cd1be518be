/*
Package entrystore provides a bounded arena of fixed-size records addressed by
generation-checked identifiers.

A Store hands out slots on Alloc and takes them back on Free. Every slot
carries a generation that is bumped when the slot is freed, and the ID
returned by Alloc encodes both the slot index and the generation. An ID
therefore stops resolving the moment its slot is released, even if the slot
is immediately reused:

	store, _ := entrystore.New[Record](1024)
	id, rec, err := store.Alloc(ctx, entrystore.ModeNoSleep)
	...
	store.Free(id)
	_, ok := store.Lookup(id) // false

Slots live in fixed chunks that are allocated lazily and never moved, so the
pointer returned by Alloc stays valid until Free. The zero ID is never issued.

Alloc with ModeSleep waits for a free slot; ModeNoSleep fails immediately
with errors.ErrCapacityExceeded when the store is full.
*/
package entrystore
