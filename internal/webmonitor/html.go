package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Detection Overlay Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: system-ui, sans-serif; background: #141418; color: #e8e8ec; }
        .app { max-width: 1100px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .grid { display: grid; grid-template-columns: 1fr 320px; gap: 16px; margin-top: 12px; }
        .panel { background: #1f1f26; border-radius: 8px; padding: 12px; }
        .panel h2 { margin: 0 0 8px; font-size: 15px; }
        .badge { padding: 3px 8px; border-radius: 10px; background: #444; font-size: 12px; }
        .badge.recording { background: #b3261e; }
        .badge.processing { background: #a86b00; }
        img#preview { width: 100%; border-radius: 6px; background: #000; }
        table { width: 100%; font-size: 13px; border-collapse: collapse; }
        td { padding: 3px 0; }
        td.value { text-align: right; font-variant-numeric: tabular-nums; }
        button { background: #33334a; color: #fff; border: 0; border-radius: 4px; padding: 6px 10px; cursor: pointer; margin: 2px; }
        button:hover { background: #45456a; }
        ul { padding-left: 18px; font-size: 13px; }
        .swatch { display: inline-block; width: 10px; height: 10px; margin-right: 6px; border-radius: 2px; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div><strong>Detection Overlay Monitor</strong> <span id="model"></span></div>
            <span class="badge" id="recording-badge">not_recording</span>
        </div>

        <div class="grid">
            <div class="panel">
                <h2>Overlay Preview</h2>
                <img id="preview" src="/stream" alt="overlay preview">
            </div>

            <div>
                <div class="panel">
                    <h2>Statistics</h2>
                    <table>
                        <tr><td>FPS</td><td class="value" id="fps">-</td></tr>
                        <tr><td>Avg FPS</td><td class="value" id="avg-fps">-</td></tr>
                        <tr><td>Inference</td><td class="value" id="inference">-</td></tr>
                        <tr><td>Avg inference</td><td class="value" id="avg-inference">-</td></tr>
                        <tr><td>Total inference</td><td class="value" id="total-inference">-</td></tr>
                        <tr><td>UI refresh rate</td><td class="value" id="ui-refresh">-</td></tr>
                        <tr><td>Frames processed / dropped</td><td class="value" id="frames">-</td></tr>
                        <tr><td>Snapshots</td><td class="value" id="snapshots">-</td></tr>
                    </table>
                    <div style="margin-top:8px;">
                        <button onclick="post('/api/recording/start', {max_snapshots: 10})">Record</button>
                        <button onclick="post('/api/recording/stop')">Stop</button>
                        <button onclick="post('/api/stats/reset')">Reset</button>
                        <button id="pause-btn" onclick="togglePause()">Pause</button>
                    </div>
                </div>

                <div class="panel" style="margin-top:12px;">
                    <h2>Confidence <span id="confidence-value"></span></h2>
                    <input type="range" id="confidence" min="0" max="1" step="0.05" style="width:100%;"
                           onchange="post('/api/confidence', {confidence: parseFloat(this.value)})">
                </div>

                <div class="panel" style="margin-top:12px;">
                    <h2>Detections</h2>
                    <ul id="detections"></ul>
                </div>

                <div class="panel" style="margin-top:12px;">
                    <h2>Recordings</h2>
                    <ul id="recordings"></ul>
                </div>
            </div>
        </div>
    </div>

    <script>
        let paused = false;

        function post(url, body) {
            return fetch(url, {
                method: 'POST',
                headers: {'Content-Type': 'application/json'},
                body: body ? JSON.stringify(body) : undefined,
            }).then(r => r.json()).then(data => {
                if (data.error) { console.warn(url, data.error); }
                return data;
            });
        }

        function togglePause() {
            post(paused ? '/api/analyzer/resume' : '/api/analyzer/pause');
        }

        function renderStatus(s) {
            const st = s.stats;
            document.getElementById('model').textContent = s.model.name + ' (' + s.model.resolution + ')';
            document.getElementById('fps').textContent = st.fps.toFixed(1);
            document.getElementById('avg-fps').textContent = st.avg_fps.toFixed(1);
            document.getElementById('inference').textContent = st.inference_ms.toFixed(0) + ' ms';
            document.getElementById('avg-inference').textContent = st.avg_inference_ms.toFixed(1) + ' ms';
            document.getElementById('total-inference').textContent = (st.total_inference_ms / 1000).toFixed(1) + ' s';
            document.getElementById('ui-refresh').textContent = st.ui_refresh_rate;
            document.getElementById('frames').textContent = s.analyzer.frames_processed + ' / ' + s.analyzer.frames_dropped;
            document.getElementById('snapshots').textContent = s.recording.snapshots + ' / ' + s.recording.max_snapshots;
            document.getElementById('confidence-value').textContent = s.confidence.toFixed(2);
            document.getElementById('confidence').value = s.confidence;

            const badge = document.getElementById('recording-badge');
            badge.textContent = s.recording.status;
            badge.className = 'badge ' + s.recording.status;

            paused = s.analyzer.paused;
            document.getElementById('pause-btn').textContent = paused ? 'Resume' : 'Pause';
        }

        function renderDetections(ev) {
            const list = document.getElementById('detections');
            list.innerHTML = '';
            (ev.detections || []).forEach(d => {
                const li = document.createElement('li');
                li.innerHTML = '<span class="swatch" style="background:' + d.color + '"></span>' +
                    d.label + ' ' + (d.confidence * 100).toFixed(0) + '%';
                list.appendChild(li);
            });
        }

        function loadRecordings() {
            fetch('/api/recordings').then(r => r.json()).then(data => {
                const list = document.getElementById('recordings');
                list.innerHTML = '';
                data.recordings.forEach(name => {
                    const chart = name.replace(/\.json$/, '.png');
                    const li = document.createElement('li');
                    li.innerHTML = '<a href="/recordings/' + name + '">' + name + '</a> ' +
                        '<a href="/recordings/' + chart + '">chart</a>';
                    list.appendChild(li);
                });
            });
        }

        let lastExports = -1;
        const status = new EventSource('/api/status/stream');
        status.onmessage = e => {
            const s = JSON.parse(e.data);
            renderStatus(s);
            if (s.recording.export.exports !== lastExports) {
                lastExports = s.recording.export.exports;
                loadRecordings();
            }
        };

        const detections = new EventSource('/api/detections/stream');
        detections.onmessage = e => renderDetections(JSON.parse(e.data));
    </script>
</body>
</html>
`
