// Package worker 实现离线缓存 worker 的生命周期：install 预缓存清单、activate 清理过期缓存并接管客户端、
// fetch 路由（导航 network-first，静态资源 stale-while-revalidate）、控制消息与后台同步占位。
//
// 浏览器中的生命周期事件在这里是显式的方法调用，由 Registration 驱动。
package worker
