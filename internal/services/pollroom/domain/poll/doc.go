// Package poll owns the room's single active-poll slot.
//
// A poll moves from active to closed exactly once, either because its
// deadline action fires or because the moderator ends it. Both paths, every
// answer submission and poll creation serialize on the engine lock, so the
// first transition to take the lock wins and later ones observe the result.
//
// Successful transitions are reported to the configured sink while the lock
// is still held. The sink therefore sees transitions in the order they took
// effect and must not block or call back into the engine.
package poll
