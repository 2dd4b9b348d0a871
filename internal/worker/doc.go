// Package worker runs untrusted page scripts in a goja VM against a
// transferring document.
//
// Each Worker owns one VM, one event loop and one session. Scripts see a
// small browser-like surface:
//
//	document                      node tree, query and creation methods
//	localStorage, sessionStorage  storage areas mirrored to the main context
//	exportFunction(name, fn)      make fn callable from the main context
//	callFunction(name, ...args)   call a main-context global, returns a Promise
//	newObject(ctor, ...args)      construct a main-context object
//	createObject(target, m, ...)  keep the result of target.m(...) as a reference
//	console, setTimeout           logging and timers
//
// require, process, module and exports are removed. Every entry into the VM
// is bounded by Config.Timeout.
package worker
