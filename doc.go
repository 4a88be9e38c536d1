// Package sntray is a toolkit-agnostic system tray host implementing the
// [StatusNotifierItem] specification. It displays tray items as a horizontal
// row of icons and forwards clicks to them.
//
// # Usage
//
// System tray consists of a watcher, a [Host], and multiple items:
//   - The watcher keeps track of tray items and hosts. One watcher must be
//     present on a D-Bus at a time. Desktops usually provide one; [Watcher]
//     can be started when they don't.
//   - [Host] registers itself in the watcher, resolves every announced item
//     with an [ItemProxy] and keeps their state in a [Registry].
//   - [Renderer] draws the items on a [Surface], and [InputRouter] maps
//     pointer events on it back to items.
//
// A host is driven by [Host.Run], which owns all of its state. Window system
// events are delivered to it with [Host.Post].
//
// [StatusNotifierItem]: https://www.freedesktop.org/wiki/Specifications/StatusNotifierItem/
package sntray
