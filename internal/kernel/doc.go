// Package kernel models the interactive kernel protocol consumed by nbcheck.
//
// A Session is one running kernel. Code is submitted with Execute, which
// returns at once, and the kernel's broadcast (iopub) messages are read back
// one at a time with NextMessage. NextMessage waits a bounded time and
// returns ErrTimedOut when nothing arrived, so callers poll rather than
// block forever on a single receive.
//
// A Starter launches a Session for a notebook. Which Starter is used is
// decided once at startup (see package jupyter); the rest of the system only
// sees these interfaces.
package kernel
