// Package throttle limits how many write requests a client may issue inside
// a sliding time window.
//
// SlidingWindow keeps the timestamps of each client's admitted requests and
// rejects a request once the window already holds Limit of them. Middleware
// plugs a Limiter into an http.Handler chain and answers rejected requests
// with 429 Too Many Requests and a Retry-After header.
//
// Idle windows are dropped by Sweep, which Run calls on a ticker:
//
//	limiter, err := throttle.New(throttle.DefaultConfig(), throttle.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	go limiter.Run(ctx)
//	router.Use(throttle.Middleware(limiter))
package throttle
