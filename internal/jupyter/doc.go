// Package jupyter runs kernels through a Jupyter Server.
//
// Client wraps the server's REST API (/api/status, /api/kernelspecs,
// /api/kernels) and opens a kernel's channels websocket as a Session, which
// implements kernel.Session. Requests are sent as protocol 5.3 JSON frames;
// only iopub broadcasts are handed to NextMessage.
//
// Probe picks the kernel.Starter for a server: KernelspecStarter when the
// server lists kernelspecs, DefaultStarter when it does not. Sessions created
// by a starter own their kernel and shut it down on Close.
//
// Launch starts a private "jupyter server" child process for runs that are
// not given a server URL.
package jupyter
