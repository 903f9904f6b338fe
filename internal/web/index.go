package web

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Indicator control</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.led { display: inline-block; width: 2em; height: 2em; margin: 0.3em; border-radius: 50%; background: #333; }
.led.on { background: #3c3; }
button { margin: 0.3em; }
</style>
</head>
<body>
<h2>Indicator control</h2>
<div id="leds"><span class="led"></span><span class="led"></span><span class="led"></span></div>
<p id="mode"></p>
<button onclick="call('/api/stop')">Stop LEDs</button>
<button onclick="call('/api/resume')">Resume</button>
<button onclick="call('/api/interval')">Change interval</button>
<script>
function show(flags) {
  const leds = document.querySelectorAll('.led');
  flags.split(',').forEach((f, i) => leds[i].classList.toggle('on', f === '1'));
}
function refresh() {
  fetch('/api/state').then(r => r.json()).then(s => {
    document.getElementById('mode').textContent = s.mode +
      (s.mode === 'stopped' ? ' (' + Math.ceil(s.stopRemainingMs / 1000) + 's left)' : '') +
      ', interval ' + s.intervalMs + 'ms';
  });
}
function call(path) {
  fetch(path, { method: 'POST' }).then(refresh);
}
const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
ws.onmessage = e => { show(e.data); refresh(); };
refresh();
</script>
</body>
</html>
`
